package reminders

import (
	"context"
	"errors"
	"sync"
	"time"

	"remindbot/internal/conversation"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const sweepName = "reminders.sweep"

// sweepGrace keeps the sweep away from reminders whose timer just fired and
// is waiting for the service lock.
const sweepGrace = time.Minute

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

type Service struct {
	log      logx.Logger
	store    *storage.Store
	sched    Scheduler
	notifier Notifier
	machine  *conversation.Machine
	bus      eventbus.Bus
	now      func() time.Time
	snooze   *snoozeCache

	cfgMu sync.RWMutex
	cfg   Config

	// mu serializes every operation that touches store, scheduler or machine.
	mu sync.Mutex

	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, store *storage.Store, sched Scheduler, notifier Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:      log.With(logx.String("comp", "reminders")),
		store:    store,
		sched:    sched,
		notifier: notifier,
		bus:      eventbus.Nop(),
		now:      time.Now,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(s)
	}
	s.machine = conversation.NewMachine(cfg.Location, s.now)
	s.snooze = newSnoozeCache(cfg.SnoozeWindow, 1024)
	sched.Handle(s.onFire)
	return s
}

func (s *Service) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Location is the zone dates and times are interpreted in.
func (s *Service) Location() *time.Location { return s.config().Location }

// PostponeOptions returns the minute offsets offered on notifications.
func (s *Service) PostponeOptions() []int {
	return append([]int(nil), s.config().PostponeMinutes...)
}

// Apply updates the settings that can change at runtime. Location and the
// sweep spec are fixed at Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfgMu.Lock()
	cur := s.cfg
	cfg.Location = cur.Location
	cfg.Sweep = cur.Sweep
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.snooze.setTTL(cfg.SnoozeWindow)
	s.log.Info("settings applied",
		logx.Bool("fire_missed", cfg.FireMissed),
		logx.Any("postpone_minutes", cfg.PostponeMinutes),
		logx.Duration("delivery_timeout", cfg.DeliveryTimeout),
		logx.Duration("snooze_window", cfg.SnoozeWindow),
	)
}

// Start loads the store, reconciles timers against it, saves the pruned
// collection and starts the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	cfg := s.config()

	if _, err := s.store.Load(ctx); err != nil && !s.store.Loaded() {
		// Nothing is armed and nothing is written; the sweep loads again.
		s.log.Error("store not loaded; startup prune skipped", logx.Err(err))
	}
	now := s.now()
	snap := s.store.All()
	kept, missed := s.sched.Reconcile(flatten(snap), now)

	if s.store.Loaded() {
		if err := s.store.Replace(ctx, retain(snap, kept)); err != nil {
			s.log.Error("pruned store not saved", logx.Err(err))
		}
	}
	for _, r := range missed {
		s.handleMissedLocked(ctx, r, cfg.FireMissed)
	}

	if cfg.Sweep != "" {
		if err := s.sched.Every(sweepName, cfg.Sweep, func(ctx context.Context) { s.Sweep(ctx) }); err != nil {
			s.log.Warn("sweep not registered", logx.String("spec", cfg.Sweep), logx.Err(err))
		}
	}
	s.sched.Start(ctx)
	s.started = true
	s.log.Info("service started",
		logx.Int("active", len(kept)),
		logx.Int("missed", len(missed)),
		logx.Bool("fire_missed", cfg.FireMissed),
		logx.String("tz", cfg.Location.String()),
	)
	return nil
}

// handleMissedLocked either drops a past-due reminder or, with fireMissed,
// delivers it now. The reminder is already gone from the store.
func (s *Service) handleMissedLocked(ctx context.Context, r reminder.Reminder, fireMissed bool) {
	if !fireMissed {
		s.log.Info("missed reminder dropped", logx.String("user", r.UserID), logx.String("id", r.ID), logx.Time("due_at", r.DueAt))
		s.publish(EventMissed, r, nil)
		return
	}
	s.log.Info("missed reminder fired late", logx.String("user", r.UserID), logx.String("id", r.ID), logx.Time("due_at", r.DueAt))
	s.snooze.put(r, s.now())
	s.publish(EventFired, r, nil)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(context.WithoutCancel(ctx), r)
	}()
}

// Stop halts the scheduler and waits for in-flight deliveries.
func (s *Service) Stop(ctx context.Context) {
	s.sched.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for deliveries")
	}
	s.log.Info("service stopped")
}

func (s *Service) Status() Status {
	jobs := s.sched.Snapshot()
	next := jobs
	if len(next) > 5 {
		next = next[:5]
	}
	return Status{
		Stored:    s.store.Len(),
		Pending:   len(jobs),
		Flows:     s.machine.Active(),
		Snoozable: s.snooze.len(s.now()),
		Next:      next,
	}
}

// ListActive returns the user's reminders due in the future, earliest first.
func (s *Service) ListActive(userID string) []reminder.Reminder {
	return s.store.ListActive(userID, s.now())
}

// Get returns one stored reminder.
func (s *Service) Get(userID, id string) (reminder.Reminder, error) {
	r, ok := s.store.Get(userID, id)
	if !ok {
		return reminder.Reminder{}, reminder.NotFound(userID, id)
	}
	return r, nil
}

// FlowState exposes the user's conversation state for rendering.
func (s *Service) FlowState(userID string) conversation.State {
	return s.machine.State(userID)
}

// scheduleLocked arms r and maps a failure to ErrSchedulingDegraded.
func (s *Service) scheduleLocked(r reminder.Reminder) error {
	if err := s.sched.Schedule(scheduler.Job{Key: r.Key(), DueAt: r.DueAt}); err != nil {
		s.log.Warn("reminder saved but not scheduled", logx.String("user", r.UserID), logx.String("id", r.ID), logx.Err(err))
		return errors.Join(reminder.ErrSchedulingDegraded, err)
	}
	return nil
}

func flatten(snap storage.Snapshot) []reminder.Reminder {
	out := make([]reminder.Reminder, 0, snap.Len())
	for _, list := range snap {
		out = append(out, list...)
	}
	storage.SortByDue(out)
	return out
}

// retain keeps the reminders of snap listed in keep, in their stored order.
func retain(snap storage.Snapshot, keep []reminder.Reminder) storage.Snapshot {
	set := make(map[reminder.Key]struct{}, len(keep))
	for _, r := range keep {
		set[r.Key()] = struct{}{}
	}
	out := storage.Snapshot{}
	for user, list := range snap {
		for _, r := range list {
			if _, ok := set[r.Key()]; ok {
				out[user] = append(out[user], r)
			}
		}
	}
	return out
}
