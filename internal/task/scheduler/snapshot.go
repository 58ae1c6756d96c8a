package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	started := s.ctx != nil
	defs := make([]*scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec.String(),
			Timeout: d.timeout,
			Running: d.state.running(),
			Skipped: d.skipped.Load(),
		}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	tz := cfg.Timezone
	if tz == "" {
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}
	defTimeout := cfg.DefaultTimeout
	if defTimeout <= 0 {
		defTimeout = defaultRunTimeout
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:        cfg.Enabled,
		Started:        started,
		Timezone:       tz,
		DefaultTimeout: defTimeout,
		Schedules:      items,
		History:        hist,
	}
}
