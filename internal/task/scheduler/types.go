package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crosspost/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	// HistorySize bounds the recent-run ring kept for Snapshot (default 32).
	HistorySize int
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

// runState is the skip-if-running guard shared by every trigger of one schedule.
type runState struct {
	mu       sync.Mutex
	inflight bool
	runs     uint64
	skips    uint64
	fails    uint64
	lastErr  string
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		s.skips++
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release(err error) {
	s.mu.Lock()
	s.inflight = false
	s.runs++
	if err != nil {
		s.fails++
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is canceled on Stop so in-flight jobs see shutdown. Guarded by bmu,
	// not mu: cron jobs read it while mu may be held waiting for cron to drain.
	bmu    sync.Mutex
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type ScheduleInfo struct {
	ID       string
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     uint64
	Skips    uint64
	Failures uint64
	LastErr  string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
