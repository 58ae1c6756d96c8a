// Package metrics exports Prometheus collectors for dispatch runs and
// scheduler activity.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"versecast/internal/eventbus"
	"versecast/internal/pipeline"
	"versecast/internal/rewrite"
)

const namespace = "versecast"

// Metrics implements pipeline.Recorder.
type Metrics struct {
	runs             *prometheus.CounterVec
	rewriteFallbacks *prometheus.CounterVec
	runDuration      prometheus.Histogram
	deliveryAttempts prometheus.Histogram
	lastDelivered    prometheus.Gauge
	tasks            *prometheus.CounterVec
	configReloads    prometheus.Counter
}

// New registers the collectors on reg. Use a fresh prometheus.NewRegistry()
// per process (or per test); registering twice on one registry panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Dispatch runs, partitioned by outcome.",
		}, []string{"outcome"}),
		rewriteFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_fallback_total",
			Help:      "Runs that delivered the original draft because the rewrite failed, by failure kind.",
		}, []string{"kind"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one dispatch run.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30, 60},
		}),
		deliveryAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts",
			Help:      "Send attempts per run.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		lastDelivered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_delivered_timestamp_seconds",
			Help:      "Unix time of the last run the push service accepted.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks_total",
			Help:      "Scheduler trigger results, by event (started, finished, failed, skipped).",
		}, []string{"event"}),
		configReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Applied configuration reloads.",
		}),
	}
}

// ObserveRun records one finished pipeline run.
func (m *Metrics) ObserveRun(res pipeline.RunResult) {
	m.runs.WithLabelValues(string(res.Outcome)).Inc()
	m.runDuration.Observe(res.Duration.Seconds())
	if res.DeliveryAttempts > 0 {
		m.deliveryAttempts.Observe(float64(res.DeliveryAttempts))
	}
	if res.RewriteErr != nil {
		m.rewriteFallbacks.WithLabelValues(fallbackKind(res.RewriteErr)).Inc()
	}
	if res.Outcome.Delivered() {
		m.lastDelivered.Set(float64(res.StartedAt.Add(res.Duration).Unix()))
	}
}

// Consume counts scheduler and config events until ctx is done or events
// is closed. Subscribe before starting the publishers so no event is missed.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.observeEvent(ev)
		}
	}
}

func (m *Metrics) observeEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeTaskStarted:
		m.tasks.WithLabelValues("started").Inc()
	case eventbus.TypeTaskFinished:
		m.tasks.WithLabelValues("finished").Inc()
	case eventbus.TypeTaskFailed:
		m.tasks.WithLabelValues("failed").Inc()
	case eventbus.TypeTaskSkipped:
		m.tasks.WithLabelValues("skipped").Inc()
	case eventbus.TypeConfigReload:
		m.configReloads.Inc()
	}
}

func fallbackKind(err error) string {
	var re *rewrite.Error
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	var pe *pipeline.PanicError
	if errors.As(err, &pe) {
		return "panic"
	}
	return "invalid"
}
