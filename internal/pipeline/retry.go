package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy is a bounded retry-with-backoff around one stage.
// MaxAttempts counts the first call; values below 1 mean 1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is a +/- fraction applied to each delay (0.2 = ±20%).
	Jitter float64
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// noRetry marks an error as permanent so the policy stops early.
func noRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func isNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// lockedRand is a *rand.Rand safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// delay returns the wait before the given retry (1-based): base doubled per
// retry, capped at MaxDelay, with proportional jitter.
func (p RetryPolicy) delay(retry int, rng *lockedRand) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = 5 * time.Second
	}

	d := base
	for i := 1; i < retry && d < maxD; i++ {
		d *= 2
	}
	if p.Jitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return max(0, min(d, maxD))
}

// run calls fn until it succeeds, the attempts are used up, retryable
// rejects the error, or ctx ends. It returns the attempts made and the last error.
func (p RetryPolicy) run(ctx context.Context, rng *lockedRand, retryable func(error) bool, fn func(ctx context.Context) error) (int, error) {
	n := p.attempts()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= n || ctx.Err() != nil || isNoRetry(err) || (retryable != nil && !retryable(err)) {
			return attempt, err
		}
		t := time.NewTimer(p.delay(attempt, rng))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, err
		case <-t.C:
		}
	}
}
