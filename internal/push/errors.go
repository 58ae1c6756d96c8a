package push

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/messaging"
)

// DeliveryError wraps any failure to hand a notification to the push service.
type DeliveryError struct {
	Topic string
	// Temporary marks failures worth retrying: FCM unavailable, internal or
	// quota errors, and deadline expiry.
	Temporary bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return "deliver to topic " + e.Topic + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a retryable DeliveryError.
func IsTemporary(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Temporary
}

func temporary(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return messaging.IsUnavailable(err) || messaging.IsInternal(err) || messaging.IsQuotaExceeded(err)
}
