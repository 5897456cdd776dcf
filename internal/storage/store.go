package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Store is the authoritative reminder collection. Every mutation writes a
// full snapshot through the backend first and only then becomes visible; a
// failed write leaves both memory and disk at the previous state.
type Store struct {
	backend Backend
	log     logx.Logger

	mu   sync.RWMutex
	data Snapshot
	// loaded is false until the backend has been read once (or found
	// corrupt). Writes are refused until then so a failed read can never be
	// followed by a save that overwrites the durable copy.
	loaded bool
}

func NewStore(b Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{backend: b, log: log.With(logx.String("comp", "store")), data: Snapshot{}}
}

// Load replaces the in-memory state with the backend's. A missing backing
// store is empty, not an error. A corrupt one also yields an empty, writable
// collection and returns an error matching ErrCorrupt. Any other failure
// leaves the store empty and not loaded: reads see nothing and writes retry
// the load first.
func (s *Store) Load(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.loadLocked(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCorrupt):
		s.log.Warn("store corrupt, starting empty", logx.Err(err))
	default:
		s.log.Error("load failed, store not loaded", logx.Err(err))
	}
	n := s.data.Len()
	if s.loaded {
		s.log.Info("reminders loaded", logx.Int("count", n), logx.Int("users", len(s.data)))
	}
	return n, err
}

func (s *Store) loadLocked(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		s.data = Snapshot{}
		s.loaded = errors.Is(err, ErrCorrupt)
		return err
	}
	if snap == nil {
		snap = Snapshot{}
	}
	s.data = snap
	s.loaded = true
	return nil
}

// Loaded reports whether the backend has been read successfully.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// All returns a deep copy of every stored reminder.
func (s *Store) All() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

func (s *Store) Get(userID, id string) (reminder.Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data[userID] {
		if r.ID == id {
			return r, true
		}
	}
	return reminder.Reminder{}, false
}

// Upsert inserts r or replaces the reminder with the same id in place.
func (s *Store) Upsert(ctx context.Context, r reminder.Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, "upsert", func(next Snapshot) bool {
		list := next[r.UserID]
		for i := range list {
			if list[i].ID == r.ID {
				list[i] = r
				return true
			}
		}
		next[r.UserID] = append(list, r)
		return true
	})
}

// Remove deletes one reminder. It reports false when nothing matched.
func (s *Store) Remove(ctx context.Context, userID, id string) (reminder.Reminder, bool, error) {
	var removed reminder.Reminder
	found := false
	err := s.mutate(ctx, "remove", func(next Snapshot) bool {
		list := next[userID]
		for i := range list {
			if list[i].ID == id {
				removed = list[i]
				found = true
				next[userID] = append(list[:i:i], list[i+1:]...)
				if len(next[userID]) == 0 {
					delete(next, userID)
				}
				return true
			}
		}
		return false
	})
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	return removed, found, nil
}

// Replace swaps the whole collection.
func (s *Store) Replace(ctx context.Context, snap Snapshot) error {
	return s.mutate(ctx, "replace", func(next Snapshot) bool {
		for k := range next {
			delete(next, k)
		}
		for k, v := range snap.Clone() {
			next[k] = v
		}
		return true
	})
}

// ListActive returns the user's reminders due after now, earliest first.
func (s *Store) ListActive(userID string, now time.Time) []reminder.Reminder {
	s.mu.RLock()
	out := make([]reminder.Reminder, 0, len(s.data[userID]))
	for _, r := range s.data[userID] {
		if r.Active(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	SortByDue(out)
	return out
}

// mutate applies fn to a copy, persists the copy and commits it. fn returns
// false when it changed nothing; no write happens then.
func (s *Store) mutate(ctx context.Context, op string, fn func(next Snapshot) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(ctx); err != nil && !s.loaded {
			s.log.Error("write refused, store not loaded", logx.String("op", op), logx.Err(err))
			return reminder.Persistence(op, fmt.Errorf("%w: %v", ErrNotLoaded, err))
		}
	}
	next := s.data.Clone()
	if !fn(next) {
		return nil
	}
	if err := s.backend.Save(ctx, next); err != nil {
		s.log.Error("save failed, change rolled back", logx.String("op", op), logx.Err(err))
		return reminder.Persistence(op, err)
	}
	s.data = next
	return nil
}

func (s *Store) Close() error { return s.backend.Close() }

// SortByDue orders reminders by due instant, then id for stability.
func SortByDue(list []reminder.Reminder) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].DueAt.Equal(list[j].DueAt) {
			return list[i].DueAt.Before(list[j].DueAt)
		}
		return list[i].ID < list[j].ID
	})
}
