package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		log: log.With(logx.String("comp", "scheduler")),
		now: time.Now,
		loc: time.Local,
		parser: specParser,
		ctx:    ctx,
		cancel: cancel,
		timers: map[reminder.Key]*entry{},
		firing: map[reminder.Key]int{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle sets the callback invoked for fired jobs. Jobs that fire while no
// handler is set are dropped with a warning.
func (s *Service) Handle(fn FireFunc) {
	s.mu.Lock()
	s.fire = fn
	s.mu.Unlock()
}

// Schedule arms exactly one job for job.Key, replacing any pending one.
func (s *Service) Schedule(job Job) error {
	if job.Key.IsZero() || job.DueAt.IsZero() {
		return fmt.Errorf("%w: key=%q due=%v", ErrInvalidJob, job.Key.String(), job.DueAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	// Invalidate the old timer before arming the new one.
	if old, ok := s.timers[job.Key]; ok {
		old.timer.Stop()
		delete(s.timers, job.Key)
		s.replaced.Add(1)
	}
	s.armLocked(job)
	return nil
}

func (s *Service) armLocked(job Job) {
	s.seq++
	ver := s.seq
	delay := job.DueAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e := &entry{job: job, ver: ver}
	e.timer = time.AfterFunc(delay, func() { s.onTimer(job.Key, ver) })
	s.timers[job.Key] = e
}

func (s *Service) onTimer(key reminder.Key, ver uint64) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.ver != ver || s.stopped {
		s.mu.Unlock()
		s.stale.Add(1)
		return
	}
	delete(s.timers, key)
	fn := s.fire
	// Add under the lock so Stop cannot miss an in-flight callback.
	s.inflight.Add(1)
	s.firing[key]++
	s.mu.Unlock()
	defer s.inflight.Done()
	defer s.doneFiring(key)

	if fn == nil {
		s.log.Warn("job fired without handler", logx.String("key", key.String()))
		return
	}
	s.fired.Add(1)
	s.run(e.job, fn)
}

func (s *Service) run(job Job, fn FireFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("job panic",
				logx.String("key", job.Key.String()),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(s.ctx, job)
}

func (s *Service) doneFiring(key reminder.Key) {
	s.mu.Lock()
	if s.firing[key] <= 1 {
		delete(s.firing, key)
	} else {
		s.firing[key]--
	}
	s.mu.Unlock()
}

// Firing reports whether a job for key has left the timer set and its
// callback has not returned yet. Such a job is neither Pending nor done.
func (s *Service) Firing(key reminder.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firing[key] > 0
}

// Cancel removes the pending job for key. It reports whether one existed.
// A cancel that returns true guarantees the job will not fire.
func (s *Service) Cancel(key reminder.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	s.canceled.Add(1)
	return true
}

// Pending reports whether a job is armed for key.
func (s *Service) Pending(key reminder.Key) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Snapshot lists pending jobs ordered by due instant.
func (s *Service) Snapshot() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.timers))
	for _, e := range s.timers {
		out = append(out, e.job)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (s *Service) Stats() Stats {
	return Stats{
		Pending:  s.Len(),
		Fired:    s.fired.Load(),
		Replaced: s.replaced.Load(),
		Canceled: s.canceled.Load(),
		Stale:    s.stale.Load(),
		Panics:   s.panics.Load(),
	}
}

// Reconcile discards every pending job and arms one per reminder due after
// now. Reminders due at or before now are returned as missed and not armed.
func (s *Service) Reconcile(list []reminder.Reminder, now time.Time) (kept, missed []reminder.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, k)
	}
	for _, r := range list {
		if !r.Active(now) {
			missed = append(missed, r)
			continue
		}
		kept = append(kept, r)
		if s.stopped {
			continue
		}
		s.armLocked(Job{Key: r.Key(), DueAt: r.DueAt})
	}
	s.log.Info("reconciled", logx.Int("armed", len(kept)), logx.Int("missed", len(missed)))
	return kept, missed
}
