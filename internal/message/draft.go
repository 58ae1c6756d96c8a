// Package message holds the notification draft passed between the
// catalog, rewriter and push stages.
package message

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTitle = errors.New("message: empty title")
	ErrEmptyBody  = errors.New("message: empty body")
)

// Draft is a (title, body) pair. It is a value type: stages hand out
// copies and never mutate a draft they received.
type Draft struct {
	Title string `json:"title" yaml:"title"`
	Body  string `json:"body" yaml:"body"`
}

// New returns a validated draft.
func New(title, body string) (Draft, error) {
	d := Draft{Title: title, Body: body}
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Validate reports whether both fields carry non-blank text.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(d.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// WithBody returns a copy of d with the body replaced. The title is kept.
func (d Draft) WithBody(body string) Draft {
	d.Body = body
	return d
}
