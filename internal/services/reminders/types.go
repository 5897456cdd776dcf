package reminders

import (
	"context"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
)

// Notifier delivers a fired reminder to its owner. It is called exactly once
// per firing.
type Notifier interface {
	Deliver(ctx context.Context, userID string, r reminder.Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, r reminder.Reminder) error

func (f NotifierFunc) Deliver(ctx context.Context, userID string, r reminder.Reminder) error {
	return f(ctx, userID, r)
}

// Scheduler is the subset of *scheduler.Service the façade drives.
type Scheduler interface {
	Handle(fn scheduler.FireFunc)
	Schedule(job scheduler.Job) error
	Cancel(key reminder.Key) bool
	Pending(key reminder.Key) (scheduler.Job, bool)
	Firing(key reminder.Key) bool
	Reconcile(list []reminder.Reminder, now time.Time) (kept, missed []reminder.Reminder)
	Every(name, spec string, fn func(ctx context.Context)) error
	Snapshot() []scheduler.Job
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

type Config struct {
	Location        *time.Location
	FireMissed      bool
	Sweep           string // cron spec; empty disables the sweep
	DeliveryTimeout time.Duration
	PostponeMinutes []int
	SnoozeWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if len(c.PostponeMinutes) == 0 {
		c.PostponeMinutes = []int{10, 30}
	}
	if c.SnoozeWindow < 0 {
		c.SnoozeWindow = 0
	}
	return c
}

// Edit carries the optional fields of an edit. Nil means unchanged.
type Edit struct {
	Task  *string
	Clock *reminder.Clock
}

// SweepReport is the outcome of one sweep pass.
type SweepReport struct {
	Rearmed int
	Purged  int
}

// Status is a point-in-time view for operator output.
type Status struct {
	Stored    int
	Pending   int
	Flows     int
	Snoozable int
	Next      []scheduler.Job
}
