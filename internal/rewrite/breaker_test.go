package rewrite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "versecast/pkg/logx"
)

func TestBreakerOpensAfterConsecutiveTransportFailures(t *testing.T) {
	t.Parallel()

	fc := &fakeChat{err: errors.New("connection refused")}
	r := New(fc, Config{Timeout: time.Second, Breaker: BreakerConfig{TripFailures: 2, Cooldown: time.Minute, MaxCooldown: 4 * time.Minute}}, logx.Nop())
	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	r.breaker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := r.Rewrite(context.Background(), hope)
		var re *Error
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindTransport, re.Kind)
	}
	require.Len(t, fc.got, 2)

	got, err := r.Rewrite(context.Background(), hope)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindCircuitOpen, re.Kind)
	assert.False(t, re.Temporary())
	assert.Equal(t, hope, got)
	assert.Len(t, fc.got, 2, "open circuit must not call the model")

	st := r.Circuit()
	assert.True(t, st.Open)
	assert.Equal(t, now.Add(time.Minute), st.OpenUntil)

	// Probe after the cooldown fails: the next cooldown doubles.
	now = now.Add(time.Minute)
	_, err = r.Rewrite(context.Background(), hope)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindTransport, re.Kind)
	assert.Equal(t, now.Add(2*time.Minute), r.Circuit().OpenUntil)

	// A successful probe closes it.
	now = now.Add(2 * time.Minute)
	fc.err = nil
	fc.reply = "Hold on to hope; God is near."
	_, err = r.Rewrite(context.Background(), hope)
	require.NoError(t, err)
	assert.Equal(t, CircuitState{}, r.Circuit())
}

func TestBreakerIgnoresOutputProblems(t *testing.T) {
	t.Parallel()

	fc := &fakeChat{reply: "   "}
	r := New(fc, Config{Timeout: time.Second, Breaker: BreakerConfig{TripFailures: 1}}, logx.Nop())
	for i := 0; i < 3; i++ {
		_, err := r.Rewrite(context.Background(), hope)
		var re *Error
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindEmpty, re.Kind)
	}
	assert.Len(t, fc.got, 3)
	assert.False(t, r.Circuit().Open)
}

func TestBreakerCooldownIsCapped(t *testing.T) {
	t.Parallel()

	b := newBreaker(BreakerConfig{TripFailures: 1, Cooldown: time.Second, MaxCooldown: 3 * time.Second})
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }
	for i := 0; i < 5; i++ {
		b.record(&Error{Kind: KindTimeout})
	}
	assert.Equal(t, now.Add(3*time.Second), b.state().OpenUntil)
}

func TestBreakerDisabled(t *testing.T) {
	t.Parallel()

	assert.Nil(t, newBreaker(BreakerConfig{}))

	fc := &fakeChat{err: errors.New("boom")}
	r := newRewriter(fc)
	for i := 0; i < 10; i++ {
		_, _ = r.Rewrite(context.Background(), hope)
	}
	assert.Len(t, fc.got, 10)
	assert.Equal(t, CircuitState{}, r.Circuit())
}
