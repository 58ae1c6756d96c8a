package pipeline

import (
	"context"
	"fmt"
	"time"

	"versecast/internal/message"
	"versecast/internal/push"
)

// Picker selects the draft for a run.
type Picker interface {
	PickRandom() message.Draft
}

// Rewriter returns a rewritten draft, or the input unchanged plus an error.
type Rewriter interface {
	Rewrite(ctx context.Context, d message.Draft) (message.Draft, error)
}

// Sender delivers a draft once per call.
type Sender interface {
	Send(ctx context.Context, d message.Draft) (push.Receipt, error)
}

// Recorder observes finished runs (metrics).
type Recorder interface {
	ObserveRun(res RunResult)
}

type Outcome string

const (
	// OutcomeDelivered: delivered with the rewritten body, or with the
	// original body when rewriting is disabled.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeDeliveredFallback: the rewrite failed and the original draft was delivered.
	OutcomeDeliveredFallback Outcome = "delivered_fallback"
	// OutcomeDeliveryFailed: delivery failed after its retries.
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	// OutcomeCanceled: the run context ended before delivery succeeded.
	OutcomeCanceled Outcome = "canceled"
)

// Delivered reports whether the push service accepted the notification.
func (o Outcome) Delivered() bool {
	return o == OutcomeDelivered || o == OutcomeDeliveredFallback
}

// RunResult describes one pick→rewrite→deliver run. RunOnce always returns one.
type RunResult struct {
	ID      string
	Outcome Outcome

	// Selected is the catalog pick; Delivered is what was handed to the sender.
	Selected  message.Draft
	Delivered message.Draft
	Rewritten bool

	RewriteErr  error
	DeliveryErr error

	RewriteAttempts  int
	DeliveryAttempts int

	Receipt   push.Receipt
	StartedAt time.Time
	Duration  time.Duration
}

// Err returns the error that made the run fail, or nil for delivered outcomes.
func (r RunResult) Err() error {
	if r.Outcome.Delivered() {
		return nil
	}
	if r.DeliveryErr != nil {
		return r.DeliveryErr
	}
	return fmt.Errorf("run %s: %s", r.ID, r.Outcome)
}

// Summary is the JSON form used for events, /status and -once output.
type Summary struct {
	ID               string        `json:"id"`
	Outcome          Outcome       `json:"outcome"`
	Title            string        `json:"title"`
	Body             string        `json:"body"`
	Rewritten        bool          `json:"rewritten"`
	RewriteError     string        `json:"rewrite_error,omitempty"`
	DeliveryError    string        `json:"delivery_error,omitempty"`
	RewriteAttempts  int           `json:"rewrite_attempts"`
	DeliveryAttempts int           `json:"delivery_attempts"`
	MessageID        string        `json:"message_id,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

func (r RunResult) Summary() Summary {
	s := Summary{
		ID:               r.ID,
		Outcome:          r.Outcome,
		Title:            r.Delivered.Title,
		Body:             r.Delivered.Body,
		Rewritten:        r.Rewritten,
		RewriteAttempts:  r.RewriteAttempts,
		DeliveryAttempts: r.DeliveryAttempts,
		MessageID:        r.Receipt.MessageID,
		StartedAt:        r.StartedAt,
		Duration:         r.Duration,
	}
	if r.RewriteErr != nil {
		s.RewriteError = r.RewriteErr.Error()
	}
	if r.DeliveryErr != nil {
		s.DeliveryError = r.DeliveryErr.Error()
	}
	return s
}

// PanicError is a recovered panic from one pipeline stage.
type PanicError struct {
	Stage string
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s panicked: %v", e.Stage, e.Value) }
