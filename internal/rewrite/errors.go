package rewrite

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies why a rewrite did not produce usable text.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindEmpty       Kind = "empty"
	KindTooLong     Kind = "too_long"
	KindCircuitOpen Kind = "circuit_open" // skipped after repeated transport failures
)

// Error is the only error type Rewrite returns. Callers fall back to the
// original draft on any Error.
type Error struct {
	Kind Kind
	// Status is the HTTP status reported by the API, when there was one.
	Status int
	// Output is the normalized model text for KindTooLong.
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := "rewrite " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether another attempt could plausibly succeed.
// Sampling is non-deterministic, so empty or over-long output is worth
// another try; auth and request errors are not.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindCanceled, KindCircuitOpen:
		return false
	case KindTransport:
		return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return true
	}
}

var (
	errNoChoices = errors.New("response has no choices")
	errBlank     = errors.New("response text is blank")
)

func classify(parent context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled) && parent.Err() != nil:
		return &Error{Kind: KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	}

	out := &Error{Kind: KindTransport, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		out.Status = reqErr.HTTPStatusCode
	}
	return out
}

func tooLong(got, limit int) error {
	return fmt.Errorf("output has %d characters, limit %d", got, limit)
}
