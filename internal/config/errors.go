package config

import (
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey      = errors.New("text-generation api key is not set")
	ErrMissingCredentials = errors.New("push credentials are not set")
)

// ConfigurationError is a fatal startup problem. The process must not
// enter the scheduling loop when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Invalid builds a ConfigurationError for a bad field value.
func Invalid(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// Wrap tags err as a ConfigurationError for field. An error that already
// carries a ConfigurationError is returned unchanged.
func Wrap(field string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigurationError{Field: field, Err: err}
}

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
