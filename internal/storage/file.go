package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// fileStore keeps every reminder in one JSON document:
//
//	{"<userID>": [{"id":...,"task":...,"dt":"RFC3339","tz":...}, ...]}
//
// Saves write <path>.tmp, fsync it and rename over <path>, so a crash
// leaves either the old or the new document, never a partial one.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return Snapshot{}, nil
	}

	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.quarantineLocked()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return decodeRecords(raw, s.log), nil
}

// quarantineLocked keeps an unreadable document next to the store so the
// next save does not silently destroy it.
func (s *fileStore) quarantineLocked() {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		s.log.Warn("cannot move corrupt store aside", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Warn("corrupt store moved aside", logx.String("path", dst))
}

func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	out := make(map[string][]reminder.Reminder, len(snap))
	for u, list := range snap {
		if len(list) > 0 {
			out[u] = list
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// decodeRecords drops individual unreadable records instead of failing the
// whole load.
func decodeRecords(raw map[string][]json.RawMessage, log logx.Logger) Snapshot {
	snap := make(Snapshot, len(raw))
	for userID, items := range raw {
		for i, item := range items {
			var r reminder.Reminder
			if err := json.Unmarshal(item, &r); err != nil {
				log.Warn("skip unreadable reminder", logx.String("user", userID), logx.Int("index", i), logx.Err(err))
				continue
			}
			r.UserID = userID
			if err := r.Validate(); err != nil {
				log.Warn("skip invalid reminder", logx.String("user", userID), logx.Int("index", i), logx.Err(err))
				continue
			}
			snap[userID] = append(snap[userID], r)
		}
	}
	return snap
}
