package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"versecast/internal/eventbus"
	logx "versecast/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		parser: cronParser,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply hot-applies cfg. Enabling or disabling starts or stops triggering;
// a timezone change rebuilds the cron instance. In-flight runs are not interrupted.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.ctx == nil {
		return
	}
	switch {
	case !cfg.Enabled && s.c != nil:
		s.stopCronLocked()
		s.log.Info("service paused")
	case cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case cfg.Enabled && oldTZ != newTZ:
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins triggering registered schedules. Runs derive their context from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	cur := s.cfg
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.String("tz", strings.TrimSpace(cur.Timezone)))

	if !cur.Enabled {
		s.log.Info("service disabled; schedules registered but not triggered", logx.Int("schedules", len(s.defs)))
		return
	}
	s.startCronLocked()

	if cur.RunOnStart {
		for _, d := range s.defs {
			s.log.Info("run on start", logx.String("name", d.name))
			go s.fire(d)
		}
	}
}

// startCronLocked builds a cron instance in the configured location and registers every def.
func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
			continue
		}
		args := []logx.Field{logx.String("name", d.name), logx.String("spec", d.spec.String())}
		if next := s.previewNextRunsLocked(d, 4); next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("schedule registered", args...)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// stopCronLocked stops triggering without waiting for running jobs
// (they call back into s.mu).
func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
}

// Stop stops triggering and waits for in-flight runs until ctx is done,
// then cancels them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	var cronDone context.Context
	if s.c != nil {
		cronDone = s.c.Stop()
		s.c = nil
	}
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	if cronDone != nil {
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("in-flight run did not finish in time; canceling")
	}
	if cancel != nil {
		cancel()
	}

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// fire runs d unless a previous run of d is still in flight.
func (s *Service) fire(d *scheduleDef) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	// Add under s.mu: Stop clears s.ctx under the same lock before waiting.
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	id := uuid.NewString()
	now := time.Now()
	if !d.state.tryAcquire() {
		n := d.skipped.Add(1)
		s.log.Warn("tick skipped; previous run still in flight", logx.String("task", d.name), logx.Uint64("skipped_total", n))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Time: now, Data: TaskEvent{ID: id, Name: d.name, Started: now, Error: "overlap_skip"}})
		s.record(HistoryItem{ID: id, Name: d.name, Started: now, Skipped: true, Error: "overlap_skip"})
		return
	}
	defer d.state.release()

	s.exec(ctx, d, id, timeout)
}

func (s *Service) exec(parent context.Context, d *scheduleDef, id string, timeout time.Duration) {
	start := time.Now()
	s.log.Debug("task.started", logx.String("task", d.name), logx.String("id", id))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start, Data: TaskEvent{ID: id, Name: d.name, Started: start}})

	ctx, cancel := context.WithTimeout(parent, timeout)
	err := s.safeRun(ctx, d)
	cancel()

	dur := time.Since(start)
	ev := TaskEvent{ID: id, Name: d.name, Started: start, Duration: dur}
	item := HistoryItem{ID: id, Name: d.name, Started: start, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", d.name), logx.String("id", id), logx.Duration("took", dur), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: ev})
	} else {
		s.log.Debug("task.finished", logx.String("task", d.name), logx.String("id", id), logx.Duration("took", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: ev})
	}
	s.record(item)
}

// safeRun guards against job panics so one bad run can't stop the scheduler.
func (s *Service) safeRun(ctx context.Context, d *scheduleDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return d.job(ctx)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = defaultHistorySize
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
