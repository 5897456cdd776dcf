// Package reminders is the façade over the store, the scheduler and the
// conversation machine.
//
// Every mutating operation runs under one service mutex and writes the store
// before it touches the scheduler, so a persistence failure aborts before a
// timer can diverge from disk. A scheduling failure after a successful write
// is reported as reminder.ErrSchedulingDegraded; the periodic sweep re-arms
// such dormant reminders.
//
// Firing is at-most-once: the reminder leaves the store before the notifier
// is called, and a failed delivery is logged and published, never retried.
package reminders
