// Package scheduler arms one-shot timers keyed by reminder.Key and runs
// periodic cron triggers.
//
// At most one pending job exists per key. Scheduling a key that is already
// armed stops the old timer and bumps its version before the new timer is
// created, so a stale callback that already started can only observe the
// version mismatch and return. A job whose due instant has passed fires
// immediately. Jobs are never persisted; Reconcile rebuilds them from the
// store at startup.
package scheduler
