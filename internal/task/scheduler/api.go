package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "versecast/pkg/logx"
)

// AddSchedule parses schedule and registers the job under name.
// Registering an existing name replaces it. See ParsedSpec for the accepted forms.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	return s.add(name, ps, timeout, job)
}

func (s *Service) AddCron(name, expr string, timeout time.Duration, job Job) (string, error) {
	ps, err := parseCron(strings.TrimSpace(expr))
	if err != nil {
		return "", err
	}
	return s.add(name, ps, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, ParsedSpec{Kind: SpecInterval, Every: every, Source: "duration"}, timeout, job)
}

// AddDaily runs job at each HH:MM (scheduler timezone) every day.
func (s *Service) AddDaily(name string, atHHMM []string, timeout time.Duration, job Job) (string, error) {
	ps, err := parseTimesOfDay(strings.Join(atHHMM, ","))
	if err != nil {
		return "", err
	}
	return s.add(name, ps, timeout, job)
}

func (s *Service) add(name string, ps ParsedSpec, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job, state: &runState{}, skipped: &atomic.Uint64{}}
	for _, prev := range s.defs {
		if prev.name == name {
			d.state, d.skipped = prev.state, prev.skipped
			break
		}
	}
	// Upsert by name so hot reloads never duplicate a schedule.
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", ps.String()), logx.Err(err))
			return name, err
		}
		args := []logx.Field{logx.String("name", name), logx.String("spec", ps.String()), logx.Duration("timeout", timeout)}
		if next := s.previewNextRunsLocked(d, 4); next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("schedule registered", args...)
	}
	// Not started yet: the definition is registered when Start runs.
	return name, nil
}

// Remove unschedules name. It returns true if something was removed.
// An in-flight run of the schedule is not interrupted.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes defs matching name and unregisters them from cron.
// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	sched, err := d.spec.schedule()
	if err != nil {
		return fmt.Errorf("schedule %q: %w", d.name, err)
	}
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(d) }))
	return nil
}

// previewNextRunsLocked returns a short list of upcoming run times for debug logs.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := d.spec.schedule()
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
