// Package prefork provides a generic pre-forked worker host: it spawns execution
// units on request, watches them, and reports their exits to a Hooks
// implementation on a single goroutine.
//
// The host knows nothing about what a worker does or how many there should be.
// Callers decide both through Hooks: OnNeedMoreWorkers runs on every
// supervisory tick, OnWorkerExited runs once per terminated unit.
package prefork

import (
	"context"
	"time"
)

// Handle is a live execution unit (an OS process or a goroutine).
type Handle interface {
	// PID returns the unit identifier, unique among live units.
	PID() int
	// Done is closed once the unit has exited.
	Done() <-chan struct{}
	// Err returns the exit error. Only valid after Done is closed.
	Err() error
	// Stop asks the unit to exit at its next tick boundary.
	Stop()
	// Close releases resources held for the unit. It kills the unit if it
	// is still running.
	Close() error
}

// Spawner creates execution units.
type Spawner interface {
	// Spawn starts a unit for the given logical slot.
	Spawn(slot int) (Handle, error)
}

// Driver is the process pool capability a supervisor holds: it spawns units
// and runs the supervisory loop that calls back into Hooks.
type Driver interface {
	Spawn(slot int) (Handle, error)
	Run(ctx context.Context, hooks Hooks) error
}

// Hooks are the policy callbacks the host invokes. Both run on the host
// goroutine, never concurrently with each other.
type Hooks interface {
	// OnNeedMoreWorkers is called at start-up and on every tick.
	OnNeedMoreWorkers(ctx context.Context)
	// OnWorkerExited is called once for each unit that terminated.
	OnWorkerExited(pid int, err error)
}

// Options configures a Host.
type Options struct {
	TickInterval time.Duration // supervisory tick, default 1s
	StopTimeout  time.Duration // how long shutdown waits for units, default 30s
}

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
}
