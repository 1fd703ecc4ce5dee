package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	connector "github.com/youwenMonkey/odoo-connector/internal"
	"github.com/youwenMonkey/odoo-connector/internal/prefork"
	"github.com/youwenMonkey/odoo-connector/internal/telemetry"
)

type fakeHandle struct {
	pid    int
	done   chan struct{}
	closed bool
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return nil }
func (h *fakeHandle) Stop()                 {}
func (h *fakeHandle) Close() error          { h.closed = true; return nil }

// fakeDriver hands out sequential pids. Spawns fail while failures > 0.
type fakeDriver struct {
	mu       sync.Mutex
	next     int
	failures int
	slots    []int
	handles  map[int]*fakeHandle
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{next: 100, handles: map[int]*fakeHandle{}}
}

func (d *fakeDriver) Spawn(slot int) (prefork.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = append(d.slots, slot)
	if d.failures > 0 {
		d.failures--
		return nil, connector.ErrSpawn
	}
	d.next++
	h := &fakeHandle{pid: d.next, done: make(chan struct{})}
	d.handles[h.pid] = h
	return h, nil
}

func (d *fakeDriver) Run(ctx context.Context, hooks prefork.Hooks) error {
	hooks.OnNeedMoreWorkers(ctx)
	<-ctx.Done()
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []connector.WorkerEvent
}

func (r *fakeRecorder) Record(e connector.WorkerEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *fakeRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestEnsurePopulation(t *testing.T) {
	t.Parallel()

	d := newFakeDriver()
	s := New(d, Options{Population: 3})
	s.EnsurePopulation(t.Context())

	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	snap := s.Snapshot()
	for i, rec := range snap {
		if rec.Slot != i {
			t.Errorf("snapshot[%d].Slot = %d, want %d", i, rec.Slot, i)
		}
	}

	// Already full: nothing more is spawned.
	s.EnsurePopulation(t.Context())
	if len(d.slots) != 3 {
		t.Errorf("spawn attempts = %d, want 3", len(d.slots))
	}
}

func TestReapAndRespawnSameSlot(t *testing.T) {
	t.Parallel()

	d := newFakeDriver()
	events := &fakeRecorder{}
	var reapedSlots []int
	s := New(d, Options{
		Population: 3,
		Events:     events,
		OnReap:     func(slot int) { reapedSlots = append(reapedSlots, slot) },
	})
	s.EnsurePopulation(t.Context())

	victim, err := s.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	s.Reap(victim.PID, errors.New("exit status 1"))

	if s.Len() != 2 {
		t.Fatalf("len after reap = %d, want 2", s.Len())
	}
	if !d.handles[victim.PID].closed {
		t.Error("reaped handle was not closed")
	}
	if _, err := s.Lookup(1); !errors.Is(err, connector.ErrNotFound) {
		t.Errorf("lookup freed slot: err = %v, want ErrNotFound", err)
	}

	// Next tick replaces the worker in the freed slot.
	s.EnsurePopulation(t.Context())
	if s.Len() != 3 {
		t.Fatalf("len after respawn = %d, want 3", s.Len())
	}
	rec, err := s.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.PID == victim.PID {
		t.Error("expected a new pid for the replacement")
	}
	if len(reapedSlots) != 1 || reapedSlots[0] != 1 {
		t.Errorf("OnReap slots = %v, want [1]", reapedSlots)
	}

	kinds := events.kinds()
	want := []string{
		connector.EventSpawned, connector.EventSpawned, connector.EventSpawned,
		connector.EventReaped, connector.EventSpawned,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
	if events.events[3].Detail != "exit status 1" {
		t.Errorf("reap detail = %q", events.events[3].Detail)
	}
}

func TestReapUnknownPID(t *testing.T) {
	t.Parallel()

	events := &fakeRecorder{}
	s := New(newFakeDriver(), Options{Population: 1, Events: events})
	s.EnsurePopulation(t.Context())

	s.Reap(99999, nil)
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
	if len(events.kinds()) != 1 {
		t.Errorf("events = %v, want only the spawn", events.kinds())
	}
}

func TestSpawnFailureBacksOff(t *testing.T) {
	t.Parallel()

	d := newFakeDriver()
	d.failures = 1
	events := &fakeRecorder{}
	reg := prometheus.NewPedanticRegistry()
	m := telemetry.NewMetrics(reg)
	s := New(d, Options{Population: 2, SpawnBackoffMax: time.Minute, Events: events, Metrics: m})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.EnsurePopulation(t.Context())
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0 after failed spawn", s.Len())
	}
	if got := testutil.ToFloat64(m.SpawnFailures); got != 1 {
		t.Errorf("spawn failures = %v, want 1", got)
	}

	// Still inside the backoff window: no attempt.
	s.EnsurePopulation(t.Context())
	if len(d.slots) != 1 {
		t.Errorf("attempts = %d, want 1 while backing off", len(d.slots))
	}

	now = now.Add(time.Minute)
	s.EnsurePopulation(t.Context())
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2 after backoff", s.Len())
	}
	if got := testutil.ToFloat64(m.WorkersLive); got != 2 {
		t.Errorf("workers live = %v, want 2", got)
	}
	if !s.nextSpawn.IsZero() {
		t.Error("expected backoff reset after a successful spawn")
	}
	if kinds := events.kinds(); kinds[0] != connector.EventSpawnFailed {
		t.Errorf("first event = %s, want spawn_failed", kinds[0])
	}
}

func TestRunWithHost(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var runs int
	fail := errors.New("database exploded")
	sp := prefork.NewFuncSpawner(func(ctx context.Context, slot int) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			return fail
		}
		<-ctx.Done()
		return nil
	})
	host := prefork.NewHost(sp, prefork.Options{TickInterval: 10 * time.Millisecond})
	events := &fakeRecorder{}
	s := New(host, Options{Population: 2, Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 3 && s.Len() == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("runs = %d, len = %d; want a replacement worker", n, s.Len())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("len after shutdown = %d, want 0", s.Len())
	}
	slots := map[int]bool{}
	for _, rec := range s.Snapshot() {
		slots[rec.Slot] = true
	}
	if len(slots) != 0 {
		t.Errorf("snapshot after shutdown = %v", slots)
	}
}
