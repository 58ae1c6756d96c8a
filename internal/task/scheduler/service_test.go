package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versecast/internal/eventbus"
	logx "versecast/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	s := New(cfg, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		unsub()
	})
	return s, ch
}

func defByName(t *testing.T, s *Service, name string) *scheduleDef {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return d
		}
	}
	t.Fatalf("schedule %q not registered", name)
	return nil
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return eventbus.Event{}
		}
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()

	// Disabled: no cron triggers, ticks are fired by hand.
	s, events := newTestService(t, Config{})
	s.Start(context.Background())

	started := make(chan struct{})
	unblock := make(chan struct{})
	var running, maxRunning atomic.Int32
	_, err := s.AddSchedule("dispatch", "1m", time.Minute, func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-unblock
		return nil
	})
	require.NoError(t, err)
	d := defByName(t, s, "dispatch")

	go s.fire(d)
	<-started

	s.fire(d) // returns immediately
	ev := waitEvent(t, events, eventbus.TypeTaskSkipped)
	assert.Equal(t, "overlap_skip", ev.Data.(TaskEvent).Error)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.True(t, snap.Schedules[0].Running)
	assert.EqualValues(t, 1, snap.Schedules[0].Skipped)

	close(unblock)
	waitEvent(t, events, eventbus.TypeTaskFinished)
	assert.EqualValues(t, 1, maxRunning.Load())

	hist := s.Snapshot().History
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Skipped)
	assert.False(t, hist[1].Skipped)
	assert.Empty(t, hist[1].Error)
}

func TestReplacedScheduleWaitsForRunInFlight(t *testing.T) {
	t.Parallel()

	s, events := newTestService(t, Config{})
	s.Start(context.Background())

	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var running, maxRunning atomic.Int32
	job := func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-unblock
		return nil
	}
	_, err := s.AddSchedule("dispatch", "1s", time.Minute, job)
	require.NoError(t, err)
	old := defByName(t, s, "dispatch")

	go s.fire(old)
	<-started

	// A reload swaps the definition while the first run is still going.
	_, err = s.AddSchedule("dispatch", "every:1s", 30*time.Second, job)
	require.NoError(t, err)
	repl := defByName(t, s, "dispatch")
	require.NotSame(t, old, repl)

	s.fire(repl)
	ev := waitEvent(t, events, eventbus.TypeTaskSkipped)
	assert.Equal(t, "overlap_skip", ev.Data.(TaskEvent).Error)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.True(t, snap.Schedules[0].Running)
	assert.EqualValues(t, 1, snap.Schedules[0].Skipped)

	close(unblock)
	waitEvent(t, events, eventbus.TypeTaskFinished)
	assert.EqualValues(t, 1, maxRunning.Load())
	assert.Eventually(t, func() bool { return !s.Snapshot().Schedules[0].Running }, time.Second, 10*time.Millisecond)
}

func TestIntervalFires(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, Config{Enabled: true})
	fired := make(chan time.Time, 4)
	_, err := s.AddInterval("tick", time.Second, 0, func(ctx context.Context) error {
		fired <- time.Now()
		return nil
	})
	require.NoError(t, err)

	begin := time.Now()
	s.Start(context.Background())
	select {
	case at := <-fired:
		assert.Less(t, at.Sub(begin), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("interval schedule did not fire")
	}

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "every:1s", snap.Schedules[0].Spec)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestRunOnStart(t *testing.T) {
	t.Parallel()

	s, events := newTestService(t, Config{Enabled: true, RunOnStart: true})
	_, err := s.AddDaily("morning", []string{"06:00"}, 0, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	s.Start(context.Background())

	ev := waitEvent(t, events, eventbus.TypeTaskFinished)
	assert.Equal(t, "morning", ev.Data.(TaskEvent).Name)
}

func TestRunFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	s, events := newTestService(t, Config{})
	s.Start(context.Background())

	_, err := s.AddSchedule("panics", "1m", 0, func(context.Context) error { panic("boom") })
	require.NoError(t, err)
	_, err = s.AddSchedule("slow", "1m", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	s.fire(defByName(t, s, "panics"))
	ev := waitEvent(t, events, eventbus.TypeTaskFailed)
	assert.Contains(t, ev.Data.(TaskEvent).Error, "panic: boom")

	s.fire(defByName(t, s, "slow"))
	ev = waitEvent(t, events, eventbus.TypeTaskFailed)
	assert.Contains(t, ev.Data.(TaskEvent).Error, context.DeadlineExceeded.Error())

	// The schedule is usable again after a panic.
	s.fire(defByName(t, s, "panics"))
	waitEvent(t, events, eventbus.TypeTaskFailed)
}

func TestStopCancelsInFlightRun(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())
	started := make(chan struct{})
	result := make(chan error, 1)
	_, err := s.AddSchedule("dispatch", "1m", time.Minute, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	go s.fire(defByName(t, s, "dispatch"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, errors.Is(<-result, context.Canceled))

	// After Stop nothing fires.
	s.fire(defByName(t, s, "dispatch"))
	assert.False(t, s.Snapshot().Started)
}

func TestAddAndRemove(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	job := func(context.Context) error { return nil }

	_, err := s.AddSchedule("", "1m", 0, job)
	require.Error(t, err)
	_, err = s.AddSchedule("x", "bogus", 0, job)
	require.Error(t, err)
	_, err = s.AddCron("x", "61 * * * *", 0, job)
	require.Error(t, err)
	_, err = s.AddInterval("x", 0, 0, job)
	require.Error(t, err)

	_, err = s.AddCron("dispatch", "0 6 * * *", 0, job)
	require.NoError(t, err)
	_, err = s.AddSchedule("dispatch", "5m", 0, job) // replaces
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "every:5m0s", snap.Schedules[0].Spec)
	assert.Equal(t, defaultRunTimeout, snap.DefaultTimeout)

	assert.True(t, s.Remove("dispatch"))
	assert.False(t, s.Remove("dispatch"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestApplyTogglesTriggering(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, Config{Enabled: true, Timezone: "UTC"})
	_, err := s.AddSchedule("dispatch", "06:00", 0, func(context.Context) error { return nil })
	require.NoError(t, err)
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Schedules[0].Next.IsZero())

	s.Apply(Config{Enabled: false, Timezone: "UTC"})
	assert.False(t, s.Enabled())
	assert.True(t, s.Snapshot().Schedules[0].Next.IsZero())

	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	next := s.Snapshot().Schedules[0].Next
	require.False(t, next.IsZero())
	assert.Equal(t, 6, next.In(time.UTC).Hour())
}
