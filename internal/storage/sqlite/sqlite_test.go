package sqlite

import (
	"context"
	"testing"
	"time"

	connector "github.com/youwenMonkey/odoo-connector/internal"
	"github.com/youwenMonkey/odoo-connector/internal/storage"
)

var _ storage.Ledger = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	batch := []connector.WorkerEvent{{
		Kind:   connector.EventSpawnFailed,
		PID:    0,
		Slot:   2,
		Detail: "fork: resource temporarily unavailable",
	}}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatal("append:", err)
	}
	e := &batch[0]
	if e.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}

	events, err := s.ListEvents(ctx, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(events) != 1 {
		t.Fatalf("count = %d, want 1", len(events))
	}
	got := events[0]
	if got.ID != e.ID || got.Kind != e.Kind || got.Slot != 2 || got.Detail != e.Detail {
		t.Errorf("got %+v, want %+v", got, *e)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, kind := range []string{connector.EventSpawned, connector.EventReaped, connector.EventSpawned} {
		e := connector.WorkerEvent{Kind: kind, PID: 100 + i, Slot: 0, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.AppendEvents(ctx, []connector.WorkerEvent{e}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("count = %d, want 2", len(events))
	}
	if events[0].PID != 102 || events[1].PID != 101 {
		t.Errorf("order = [%d %d], want [102 101]", events[0].PID, events[1].PID)
	}
	if events[1].Detail != "" {
		t.Errorf("detail = %q, want empty", events[1].Detail)
	}
}

func TestPruneEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		e := connector.WorkerEvent{Kind: connector.EventSpawned, CreatedAt: now.Add(-age)}
		if err := s.AppendEvents(ctx, []connector.WorkerEvent{e}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PruneEvents(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}

	events, err := s.ListEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("remaining = %d, want 1", len(events))
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestAppendEventsBatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	batch := []connector.WorkerEvent{
		{Kind: connector.EventSpawned, PID: 11, Slot: 0},
		{Kind: connector.EventSpawned, PID: 12, Slot: 1},
		{Kind: connector.EventReaped, PID: 11, Slot: 0, Detail: "exit status 1"},
	}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatal(err)
	}
	for _, e := range batch {
		if e.ID == "" {
			t.Error("expected IDs to be assigned in place")
		}
	}

	events, err := s.ListEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("count = %d, want 3", len(events))
	}

	if err := s.AppendEvents(ctx, nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}
