// Package supervisor keeps a fixed population of poll workers alive.
//
// The Supervisor owns the worker registry and the spawn policy. It does not
// run a loop of its own: a prefork.Driver calls OnNeedMoreWorkers on every
// supervisory tick and OnWorkerExited when a worker terminates, both on the
// driver's goroutine, so the registry has a single writer.
package supervisor

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	connector "github.com/youwenMonkey/odoo-connector/internal"
	"github.com/youwenMonkey/odoo-connector/internal/prefork"
	"github.com/youwenMonkey/odoo-connector/internal/telemetry"
)

// EventRecorder receives worker lifecycle events for the accounting ledger.
type EventRecorder interface {
	Record(connector.WorkerEvent)
}

// Options configures a Supervisor.
type Options struct {
	Population      int
	SpawnBackoffMax time.Duration // cap on the delay after failed spawns, default 30s

	Events  EventRecorder      // nil = no ledger
	Metrics *telemetry.Metrics // nil = no metrics
	OnReap  func(slot int)     // called after a worker leaves the registry
}

type entry struct {
	record connector.WorkerRecord
	handle prefork.Handle
}

// Supervisor maintains Population live workers, each holding a distinct
// slot in [0, Population).
type Supervisor struct {
	driver prefork.Driver
	opts   Options

	mu      sync.RWMutex
	workers map[int]*entry // keyed by pid

	backoff   *backoff.ExponentialBackOff
	nextSpawn time.Time
	now       func() time.Time
}

// New creates a Supervisor that spawns through driver.
func New(driver prefork.Driver, opts Options) *Supervisor {
	if opts.Population < 1 {
		opts.Population = 1
	}
	if opts.SpawnBackoffMax <= 0 {
		opts.SpawnBackoffMax = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = opts.SpawnBackoffMax
	return &Supervisor{
		driver:  driver,
		opts:    opts,
		workers: make(map[int]*entry),
		backoff: b,
		now:     time.Now,
	}
}

// Name returns the worker identifier.
func (s *Supervisor) Name() string { return "supervisor" }

// Run drives the supervisor until ctx is cancelled. On return every worker
// has been stopped and reaped.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("supervisor started", "population", s.opts.Population)
	err := s.driver.Run(ctx, s)
	slog.Info("supervisor stopped", "workers", s.Len())
	return err
}

// OnNeedMoreWorkers implements prefork.Hooks.
func (s *Supervisor) OnNeedMoreWorkers(ctx context.Context) {
	s.EnsurePopulation(ctx)
}

// OnWorkerExited implements prefork.Hooks.
func (s *Supervisor) OnWorkerExited(pid int, err error) {
	s.Reap(pid, err)
}

// EnsurePopulation spawns workers until the registry holds Population
// entries. A spawn failure is logged and ends the pass; the next tick
// retries once the spawn backoff has elapsed.
func (s *Supervisor) EnsurePopulation(ctx context.Context) {
	if s.now().Before(s.nextSpawn) {
		return
	}
	for s.Len() < s.opts.Population {
		slot := s.freeSlot()
		h, err := s.driver.Spawn(slot)
		if err != nil {
			delay := s.backoff.NextBackOff()
			s.nextSpawn = s.now().Add(delay)
			slog.LogAttrs(ctx, slog.LevelError, "worker spawn failed",
				slog.Int("slot", slot),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			s.record(connector.WorkerEvent{Kind: connector.EventSpawnFailed, Slot: slot, Detail: err.Error()})
			if s.opts.Metrics != nil {
				s.opts.Metrics.SpawnFailures.Inc()
			}
			return
		}
		s.backoff.Reset()
		s.nextSpawn = time.Time{}

		rec := connector.WorkerRecord{PID: h.PID(), Slot: slot, StartedAt: s.now().UTC()}
		s.mu.Lock()
		s.workers[rec.PID] = &entry{record: rec, handle: h}
		n := len(s.workers)
		s.mu.Unlock()

		slog.LogAttrs(ctx, slog.LevelInfo, "worker spawned",
			slog.Int("pid", rec.PID),
			slog.Int("slot", slot),
		)
		s.record(connector.WorkerEvent{Kind: connector.EventSpawned, PID: rec.PID, Slot: slot})
		if s.opts.Metrics != nil {
			s.opts.Metrics.Spawns.Inc()
			s.opts.Metrics.WorkersLive.Set(float64(n))
		}
	}
}

// Reap removes pid from the registry and releases its handle. Unknown pids
// are ignored.
func (s *Supervisor) Reap(pid int, exitErr error) {
	s.mu.Lock()
	e, ok := s.workers[pid]
	if ok {
		delete(s.workers, pid)
	}
	n := len(s.workers)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := e.handle.Close(); err != nil {
		slog.LogAttrs(context.Background(), slog.LevelWarn, "worker handle close failed",
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
	}

	result := "ok"
	ev := connector.WorkerEvent{Kind: connector.EventReaped, PID: pid, Slot: e.record.Slot}
	if exitErr != nil {
		result = "error"
		ev.Detail = exitErr.Error()
		slog.LogAttrs(context.Background(), slog.LevelWarn, "worker exited with error",
			slog.Int("pid", pid),
			slog.Int("slot", e.record.Slot),
			slog.String("error", exitErr.Error()),
		)
	}
	slog.LogAttrs(context.Background(), slog.LevelDebug, "worker unregistered",
		slog.Int("pid", pid),
	)
	s.record(ev)
	if s.opts.Metrics != nil {
		s.opts.Metrics.Reaps.WithLabelValues(result).Inc()
		s.opts.Metrics.WorkersLive.Set(float64(n))
	}
	if s.opts.OnReap != nil {
		s.opts.OnReap(e.record.Slot)
	}
}

// Len returns the number of registered workers.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// Snapshot returns a copy of the registry ordered by slot.
func (s *Supervisor) Snapshot() []connector.WorkerRecord {
	s.mu.RLock()
	out := make([]connector.WorkerRecord, 0, len(s.workers))
	for _, e := range s.workers {
		out = append(out, e.record)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b connector.WorkerRecord) int { return a.Slot - b.Slot })
	return out
}

// Lookup returns the record of the worker holding slot.
func (s *Supervisor) Lookup(slot int) (connector.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.workers {
		if e.record.Slot == slot {
			return e.record, nil
		}
	}
	return connector.WorkerRecord{}, connector.ErrNotFound
}

// freeSlot returns the lowest slot not held by a registered worker.
func (s *Supervisor) freeSlot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	used := make([]bool, s.opts.Population)
	for _, e := range s.workers {
		if e.record.Slot < len(used) {
			used[e.record.Slot] = true
		}
	}
	for slot, taken := range used {
		if !taken {
			return slot
		}
	}
	return len(used)
}

func (s *Supervisor) record(e connector.WorkerEvent) {
	if s.opts.Events != nil {
		s.opts.Events.Record(e)
	}
}
