package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versecast/internal/eventbus"
	"versecast/internal/pipeline"
	"versecast/internal/rewrite"
)

func TestObserveRun(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	now := time.Now()

	m.ObserveRun(pipeline.RunResult{Outcome: pipeline.OutcomeDelivered, DeliveryAttempts: 1, StartedAt: now, Duration: time.Second})
	m.ObserveRun(pipeline.RunResult{
		Outcome:          pipeline.OutcomeDeliveredFallback,
		RewriteErr:       &rewrite.Error{Kind: rewrite.KindTimeout},
		DeliveryAttempts: 1,
		StartedAt:        now,
	})
	m.ObserveRun(pipeline.RunResult{
		Outcome:          pipeline.OutcomeDeliveredFallback,
		RewriteErr:       errors.New("rewriter altered the title"),
		DeliveryAttempts: 2,
		StartedAt:        now,
	})
	m.ObserveRun(pipeline.RunResult{Outcome: pipeline.OutcomeDeliveryFailed, DeliveryAttempts: 3, StartedAt: now})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("delivered_fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("delivery_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewriteFallbacks.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewriteFallbacks.WithLabelValues("invalid")))
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(m.lastDelivered))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestConsumeCountsSchedulerEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := eventbus.New()

	events, unsub := bus.Subscribe(64)
	defer unsub()

	// Published before the consumer goroutine runs: the subscription buffers them.
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped})
	bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Consume(ctx, events) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.tasks.WithLabelValues("started")) == 1 &&
			testutil.ToFloat64(m.tasks.WithLabelValues("skipped")) == 2 &&
			testutil.ToFloat64(m.configReloads) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	expected := `
# HELP versecast_config_reloads_total Applied configuration reloads.
# TYPE versecast_config_reloads_total counter
versecast_config_reloads_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "versecast_config_reloads_total"))
}
