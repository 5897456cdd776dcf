package storage

import (
	"context"
	"sync"
)

// Memory is a volatile Backend.
type Memory struct {
	mu      sync.Mutex
	snap    Snapshot
	saves   int
	saveErr error
	loadErr error
}

func NewMemory() *Memory { return &Memory{snap: Snapshot{}} }

func (m *Memory) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snap.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = snap.Clone()
	m.saves++
	return nil
}

// Saves returns how many snapshots were committed.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetSaveErr makes every following Save fail with err (nil clears it).
// The held snapshot is left untouched.
func (m *Memory) SetSaveErr(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// SetLoadErr makes every following Load fail with err (nil clears it).
func (m *Memory) SetLoadErr(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }
