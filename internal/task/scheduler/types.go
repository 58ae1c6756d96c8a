package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"versecast/internal/eventbus"
	logx "versecast/pkg/logx"
)

const (
	defaultRunTimeout  = 60 * time.Second
	defaultHistorySize = 50
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
	// RunOnStart fires every schedule once right after Start.
	RunOnStart bool
	// DefaultTimeout is used when a schedule has no timeout of its own.
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is the unit of work a schedule runs.
type Job func(ctx context.Context) error

// runState tracks whether a schedule is already in flight.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *runState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// HistoryItem is one fired trigger: a finished run or a skip.
type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TaskEvent is the Data of task.* events on the bus.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	// state and skipped belong to the name, not the definition: an upsert
	// hands them to the replacement so a run in flight still blocks it.
	state   *runState
	skipped *atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// ctx is the parent of every run context; nil until Start.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Running bool          `json:"running"`
	Skipped uint64        `json:"skipped"`
}

type Snapshot struct {
	Enabled        bool           `json:"enabled"`
	Started        bool           `json:"started"`
	Timezone       string         `json:"timezone"`
	DefaultTimeout time.Duration  `json:"default_timeout"`
	Schedules      []ScheduleInfo `json:"schedules"`
	History        []HistoryItem  `json:"history"`
}
