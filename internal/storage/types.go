package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrClosed    = errors.New("storage closed")
	ErrCorrupt   = errors.New("storage data corrupt")
	ErrNotLoaded = errors.New("storage not loaded")
)

// Config configures the backend.
//
// Driver values: "file" (default), "sqlite", "postgres", "memory".
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot maps userID to that user's reminders in insertion order.
type Snapshot map[string][]reminder.Reminder

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for u, list := range s {
		if len(list) == 0 {
			continue
		}
		out[u] = append([]reminder.Reminder(nil), list...)
	}
	return out
}

// Len returns the total number of reminders.
func (s Snapshot) Len() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}

// Backend persists whole snapshots. Save must be atomic: after a failed
// Save the previously saved snapshot is still what Load returns.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}
