package rewrite

import (
	"sync"
	"time"
)

// BreakerConfig is a consecutive-failure circuit with exponential cooldown.
// TripFailures <= 0 disables the breaker.
type BreakerConfig struct {
	TripFailures int
	Cooldown     time.Duration
	MaxCooldown  time.Duration
}

// breaker stops calling the model while it keeps failing at the transport
// level. Only KindTransport and KindTimeout count: bad output is a model
// quality problem, not an outage.
//
// Once open, the first call after openUntil is let through as a probe. A
// failed probe reopens the circuit for twice the previous cooldown.
type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	fails     int
	openUntil time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.TripFailures <= 0 {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	return &breaker{cfg: cfg, now: time.Now}
}

// allow reports whether a call may proceed, and if not, until when the
// circuit stays open.
func (b *breaker) allow() (bool, time.Time) {
	if b == nil {
		return true, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openUntil.IsZero() && b.now().Before(b.openUntil) {
		return false, b.openUntil
	}
	return true, time.Time{}
}

func (b *breaker) record(err *Error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		return
	}
	if err.Kind != KindTransport && err.Kind != KindTimeout {
		return
	}

	b.fails++
	if b.fails < b.cfg.TripFailures {
		return
	}
	d := b.cfg.Cooldown
	for i := b.cfg.TripFailures; i < b.fails; i++ {
		d *= 2
		if d >= b.cfg.MaxCooldown {
			d = b.cfg.MaxCooldown
			break
		}
	}
	b.openUntil = b.now().Add(d)
}

// CircuitState is exposed on /status.
type CircuitState struct {
	Open      bool      `json:"open"`
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

func (b *breaker) state() CircuitState {
	if b == nil {
		return CircuitState{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := CircuitState{Failures: b.fails}
	if !b.openUntil.IsZero() && b.now().Before(b.openUntil) {
		st.Open = true
		st.OpenUntil = b.openUntil
	}
	return st
}
