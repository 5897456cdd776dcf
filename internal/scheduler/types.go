package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

var (
	ErrStopped    = errors.New("scheduler stopped")
	ErrInvalidJob = errors.New("invalid job")
)

// Job is the transient payload needed to fire one reminder.
type Job struct {
	Key   reminder.Key
	DueAt time.Time
}

// FireFunc runs once per fired job. ctx is cancelled on Stop.
type FireFunc func(ctx context.Context, job Job)

type entry struct {
	job   Job
	ver   uint64
	timer *time.Timer
}

type periodic struct {
	name    string
	spec    string
	fn      func(ctx context.Context)
	entryID cron.EntryID
}

// Stats is a point-in-time view for status output.
type Stats struct {
	Pending  int
	Fired    uint64
	Replaced uint64
	Canceled uint64
	Stale    uint64
	Panics   uint64
}

type Option func(*Service)

// WithClock replaces time.Now when computing timer delays.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone cron specs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type Service struct {
	log    logx.Logger
	now    func() time.Time
	loc    *time.Location
	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	fire     FireFunc
	timers   map[reminder.Key]*entry
	firing   map[reminder.Key]int // dequeued jobs whose callback has not returned
	seq      uint64
	stopped  bool
	c        *cron.Cron
	periodic []*periodic

	inflight sync.WaitGroup

	fired    atomic.Uint64
	replaced atomic.Uint64
	canceled atomic.Uint64
	stale    atomic.Uint64
	panics   atomic.Uint64
}
