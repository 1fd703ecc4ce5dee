// Package testutil provides shared fakes for package tests.
package testutil

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// FakeStore is an in-memory storage.Ledger for tests.
type FakeStore struct {
	mu     sync.RWMutex
	events []connector.WorkerEvent
	seq    int
	closed bool
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// AppendEvents stores a batch of events.
func (s *FakeStore) AppendEvents(_ context.Context, events []connector.WorkerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		s.appendLocked(&events[i])
	}
	return nil
}

func (s *FakeStore) appendLocked(e *connector.WorkerEvent) {
	s.seq++
	if e.ID == "" {
		e.ID = "evt-" + strconv.Itoa(s.seq)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *e)
}

// ListEvents returns up to limit events, newest first.
func (s *FakeStore) ListEvents(_ context.Context, limit int) ([]connector.WorkerEvent, error) {
	s.mu.RLock()
	out := slices.Clone(s.events)
	s.mu.RUnlock()
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneEvents drops events created before the cutoff.
func (s *FakeStore) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	s.events = slices.DeleteFunc(s.events, func(e connector.WorkerEvent) bool {
		return e.CreatedAt.Before(before)
	})
	return int64(n - len(s.events)), nil
}

// Kinds returns the kinds of all stored events in insertion order.
func (s *FakeStore) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

// Ping reports connector.ErrPoolClosed after Close.
func (s *FakeStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return connector.ErrPoolClosed
	}
	return nil
}

// Close marks the store closed.
func (s *FakeStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
