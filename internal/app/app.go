package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"versecast/internal/catalog"
	"versecast/internal/config"
	"versecast/internal/eventbus"
	"versecast/internal/observability/metrics"
	"versecast/internal/observability/opshttp"
	"versecast/internal/pipeline"
	"versecast/internal/push"
	"versecast/internal/rewrite"
	rtsup "versecast/internal/runtime/supervisor"
	"versecast/internal/task/scheduler"
	logx "versecast/pkg/logx"
)

// dispatchSchedule is the scheduler name of the pipeline job.
const dispatchSchedule = "dispatch"

type App struct {
	cfgm   *config.ConfigManager
	getenv config.Getenv
	sup    *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	smu      sync.RWMutex
	settings *config.Settings
	catalog  *catalog.Catalog
	rewriter *rewrite.Rewriter // nil when rewrite is disabled
	pipe     *pipeline.Pipeline
	sched    *scheduler.Service
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	ops      *opshttp.Service
}

// NewApp loads and validates configuration and builds every component.
// Any error it returns is a *config.ConfigurationError: the process must
// not start.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := buildOptions(opts)
	if err := config.LoadDotEnv(o.dotenv...); err != nil {
		return nil, err
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := resolve(cfg, o.getenv)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(st.Logging)
	log = log.With(logx.String("comp", "app"))

	cat, err := catalog.Load(st.Catalog)
	if err != nil {
		return nil, err
	}
	log.Info("catalog loaded", logx.Int("entries", cat.Len()), logx.String("source", catalogSource(st.Catalog)))

	var (
		rw       pipeline.Rewriter
		rewriter *rewrite.Rewriter
	)
	if st.Rewrite.Enabled {
		chat := o.chat
		if chat == nil {
			// HTTP timeout slightly above the per-call context timeout so ctx wins.
			chat = rewrite.NewOpenAIClient(st.Rewrite.APIKey, st.Rewrite.BaseURL, st.Rewrite.Timeout+2*time.Second)
		}
		rewriter = rewrite.New(chat, rewrite.Config{
			Model:       st.Rewrite.Model,
			Temperature: st.Rewrite.Temperature,
			MaxTokens:   st.Rewrite.MaxTokens,
			MaxChars:    st.Rewrite.MaxChars,
			Timeout:     st.Rewrite.Timeout,
			Breaker: rewrite.BreakerConfig{
				TripFailures: st.Rewrite.Circuit.TripFailures,
				Cooldown:     st.Rewrite.Circuit.Cooldown,
				MaxCooldown:  st.Rewrite.Circuit.MaxCooldown,
			},
		}, log)
		rw = rewriter
	} else {
		log.Info("rewrite disabled; drafts are delivered as picked")
	}

	pc := o.pushClient
	if pc == nil {
		if pc, err = newPushClient(ctx, st.Push, log); err != nil {
			return nil, err
		}
	}
	notifier := push.New(pc, push.Config{
		Topic:      st.Push.Topic,
		ChannelID:  st.Push.ChannelID,
		Priority:   st.Push.Priority,
		Timeout:    st.Push.Timeout,
		RatePerSec: st.Push.RatePerSec,
		DryRun:     st.Push.DryRun,
	}, log)

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)
	bus := eventbus.New()

	pipe := pipeline.New(pipeline.Deps{
		Picker:   cat,
		Rewriter: rw,
		Sender:   notifier,
		Log:      log,
		Bus:      bus,
		Recorder: m,
	}, pipeline.Config{
		RewriteRetry:  retryPolicy(st.Rewrite.Retry),
		DeliveryRetry: retryPolicy(st.Push.Retry),
	})

	sched := scheduler.New(schedulerConfig(st), log.With(logx.String("comp", "scheduler")), bus)
	if _, err := sched.AddSchedule(dispatchSchedule, st.Scheduler.Schedule, st.Scheduler.RunTimeout, pipe.Job()); err != nil {
		return nil, &config.ConfigurationError{Field: "scheduler.schedule", Err: err}
	}

	a := &App{
		cfgm:     cfgm,
		getenv:   o.getenv,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		settings: st,
		catalog:  cat,
		rewriter: rewriter,
		pipe:     pipe,
		sched:    sched,
		metrics:  m,
		registry: reg,
	}
	a.ops = opshttp.New(opsConfig(st.Ops), opshttp.Deps{
		Gatherer: reg,
		Status:   func() any { return a.Status() },
		Ready:    a.Ready,
	}, log)
	return a, nil
}

// resolve turns a parsed config into settings, including checks that need
// other packages (schedule syntax).
func resolve(cfg *config.Config, getenv config.Getenv) (*config.Settings, error) {
	st, err := config.Resolve(cfg, getenv)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.ParseSchedule(st.Scheduler.Schedule); err != nil {
		return nil, &config.ConfigurationError{Field: "scheduler.schedule", Err: err}
	}
	return st, nil
}

func newPushClient(ctx context.Context, ps config.PushSettings, log logx.Logger) (push.Client, error) {
	switch ps.Provider {
	case config.ProviderLog:
		log.Warn("push provider is log; notifications are not delivered")
		return push.NewLogClient(log), nil
	default:
		c, err := push.NewFirebaseClient(ctx, push.FirebaseConfig{
			CredentialsFile: ps.CredentialsFile,
			ProjectID:       ps.ProjectID,
			DryRun:          ps.DryRun,
		})
		if err != nil {
			return nil, config.Wrap("push.credentials_file", err)
		}
		return c, nil
	}
}

func catalogSource(c config.CatalogConfig) string {
	if c.Path == "" {
		return "builtin"
	}
	return c.Path
}

func retryPolicy(r config.RetrySettings) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay, Jitter: r.Jitter}
}

func schedulerConfig(st *config.Settings) scheduler.Config {
	return scheduler.Config{
		Enabled:        st.Scheduler.Enabled,
		Timezone:       st.Scheduler.Timezone,
		RunOnStart:     st.Scheduler.RunOnStart,
		DefaultTimeout: st.Scheduler.RunTimeout,
		HistorySize:    st.Scheduler.HistorySize,
	}
}

func opsConfig(o config.OpsSettings) opshttp.Config {
	return opshttp.Config{Enabled: o.Enabled, Addr: o.Addr, Token: o.Token, AllowInsecure: o.AllowInsecure, Pprof: o.Pprof}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Logger returns the app logger.
func (a *App) Logger() logx.Logger { return a.log }

// Settings returns the settings currently in effect.
func (a *App) Settings() config.Settings {
	a.smu.RLock()
	defer a.smu.RUnlock()
	return *a.settings
}

// RunOnce performs a single dispatch outside the scheduler.
func (a *App) RunOnce(ctx context.Context) pipeline.RunResult {
	ctx, cancel := context.WithTimeout(ctx, a.Settings().Scheduler.RunTimeout)
	defer cancel()
	return a.pipe.RunOnce(ctx)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := resolve(cfg, a.getenv)
		return err
	})

	// Subscribe before the scheduler starts so a run_on_start run is counted.
	metricEvents, metricUnsub := a.bus.Subscribe(64)
	a.sup.Go("metrics.consume", func(c context.Context) error {
		defer metricUnsub()
		return a.metrics.Consume(c, metricEvents)
	})

	a.sched.Start(a.sup.Context())
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}

	// Debug-level event trace; frequent schedules would be noisy at info.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.reloadLoop(c, sub)
	})
	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	cur := a.Settings()
	a.log.Info("app started",
		logx.String("schedule", cur.Scheduler.Schedule),
		logx.String("topic", cur.Push.Topic),
		logx.Bool("rewrite", cur.Rewrite.Enabled),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies logging, scheduler and ops changes. Catalog,
// rewrite and push clients are built once; changes there need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	st, err := resolve(newCfg, a.getenv)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(st.Logging)

	prev := a.Settings()
	a.sched.Apply(schedulerConfig(st))
	if st.Scheduler.Schedule != prev.Scheduler.Schedule || st.Scheduler.RunTimeout != prev.Scheduler.RunTimeout {
		if _, err := a.sched.AddSchedule(dispatchSchedule, st.Scheduler.Schedule, st.Scheduler.RunTimeout, a.pipe.Job()); err != nil {
			a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
			st.Scheduler.Schedule = prev.Scheduler.Schedule
			st.Scheduler.RunTimeout = prev.Scheduler.RunTimeout
		}
	}
	a.ops.Reconfigure(ctx, opsConfig(st.Ops))

	if len(restart) > 0 {
		a.log.Warn("config changed in sections that need a restart; running with previous values",
			logx.String("sections", strings.Join(restart, ",")))
		st.Catalog, st.Rewrite, st.Push = prev.Catalog, prev.Rewrite, prev.Push
	}
	a.smu.Lock()
	a.settings = st
	a.smu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started (-once): only the log sinks are open.
		a.log.Debug("stopping", logx.String("reason", string(reason)))
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		// respect the caller's deadline; never extend it
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so an in-flight run can finish before the
	// app context is canceled underneath it.
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// Ready reports whether the scheduler is triggering runs.
func (a *App) Ready() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	if snap := a.sched.Snapshot(); !snap.Started {
		return errors.New("scheduler not started")
	}
	return nil
}

// Status is the /status document.
type Status struct {
	Schedule    string                `json:"schedule"`
	Topic       string                `json:"topic"`
	Rewrite     bool                  `json:"rewrite"`
	Circuit     *rewrite.CircuitState `json:"rewrite_circuit,omitempty"`
	CatalogSize int                   `json:"catalog_size"`
	LastRun     *pipeline.Summary     `json:"last_run,omitempty"`
	Scheduler   scheduler.Snapshot    `json:"scheduler"`
	Supervisor  []rtsup.Stats         `json:"supervisor,omitempty"`
	EventsLost  uint64                `json:"events_dropped"`
}

func (a *App) Status() Status {
	cur := a.Settings()
	st := Status{
		Schedule:    cur.Scheduler.Schedule,
		Topic:       cur.Push.Topic,
		Rewrite:     cur.Rewrite.Enabled,
		CatalogSize: a.catalog.Len(),
		Scheduler:   a.sched.Snapshot(),
		EventsLost:  a.bus.Dropped(),
	}
	if last, ok := a.pipe.Last(); ok {
		sum := last.Summary()
		st.LastRun = &sum
	}
	if a.rewriter != nil {
		c := a.rewriter.Circuit()
		st.Circuit = &c
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}
