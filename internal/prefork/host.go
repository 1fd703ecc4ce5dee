package prefork

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopTimeout is reported for units that did not exit within StopTimeout
// during shutdown.
var ErrStopTimeout = errors.New("prefork: worker did not stop in time")

type exitEvent struct {
	pid int
	err error
}

// Host drives a set of execution units on behalf of a Hooks implementation.
// It implements Driver.
type Host struct {
	spawner Spawner
	opts    Options

	exits chan exitEvent
	quit  chan struct{}

	mu   sync.Mutex
	live map[int]Handle // watched units, keyed by PID
}

// NewHost creates a Host that spawns units through spawner.
func NewHost(spawner Spawner, opts Options) *Host {
	opts.applyDefaults()
	return &Host{
		spawner: spawner,
		opts:    opts,
		exits:   make(chan exitEvent),
		quit:    make(chan struct{}),
		live:    make(map[int]Handle),
	}
}

// Spawn starts a unit for slot and begins watching it. The unit's exit is
// reported to the hooks passed to Run.
func (h *Host) Spawn(slot int) (Handle, error) {
	u, err := h.spawner.Spawn(slot)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.live[u.PID()] = u
	h.mu.Unlock()

	go func() {
		<-u.Done()
		select {
		case h.exits <- exitEvent{pid: u.PID(), err: u.Err()}:
		case <-h.quit:
		}
	}()
	return u, nil
}

// Live returns the number of watched units that have not been reported as exited.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Run calls hooks.OnNeedMoreWorkers immediately and on every tick, and
// hooks.OnWorkerExited for every unit exit, until ctx is cancelled. It then
// stops all live units, waits up to StopTimeout for them, and returns.
func (h *Host) Run(ctx context.Context, hooks Hooks) error {
	defer close(h.quit)

	hooks.OnNeedMoreWorkers(ctx)

	ticker := time.NewTicker(h.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-h.exits:
			h.forget(e.pid)
			hooks.OnWorkerExited(e.pid, e.err)
		case <-ticker.C:
			hooks.OnNeedMoreWorkers(ctx)
		case <-ctx.Done():
			h.shutdown(hooks)
			return nil
		}
	}
}

func (h *Host) forget(pid int) {
	h.mu.Lock()
	delete(h.live, pid)
	h.mu.Unlock()
}

// shutdown stops every live unit and reports each exit.
func (h *Host) shutdown(hooks Hooks) {
	h.mu.Lock()
	units := make([]Handle, 0, len(h.live))
	for _, u := range h.live {
		units = append(units, u)
	}
	h.mu.Unlock()

	if len(units) == 0 {
		return
	}
	slog.Info("stopping workers", "count", len(units))
	for _, u := range units {
		u.Stop()
	}

	timer := time.NewTimer(h.opts.StopTimeout)
	defer timer.Stop()

	for h.Live() > 0 {
		select {
		case e := <-h.exits:
			h.forget(e.pid)
			hooks.OnWorkerExited(e.pid, e.err)
		case <-timer.C:
			h.mu.Lock()
			stuck := h.live
			h.live = make(map[int]Handle)
			h.mu.Unlock()
			for pid := range stuck {
				slog.LogAttrs(context.Background(), slog.LevelWarn, "worker did not stop in time",
					slog.Int("pid", pid),
				)
				hooks.OnWorkerExited(pid, ErrStopTimeout)
			}
			return
		}
	}
}
