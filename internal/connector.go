// Package connector defines domain types for the connector worker pool.
// This package has no project imports -- it is the dependency root.
package connector

import "time"

// DefaultMaxJobs caps how many pending jobs one dispatch tick may claim
// from a single tenant database.
const DefaultMaxJobs = 50

// DefaultBaseInterval is the idle pause between two rotations before the
// per-worker offset is added.
const DefaultBaseInterval = 15 * time.Second

// --- Supervisor ---

// WorkerRecord describes one live worker in the supervisor registry.
type WorkerRecord struct {
	PID       int       `json:"pid"`
	Slot      int       `json:"slot"` // logical identity in [0, population)
	StartedAt time.Time `json:"started_at"`
	Database  string    `json:"database,omitempty"` // tenant being polled, when known
}

// Worker lifecycle event kinds recorded in the accounting ledger.
const (
	EventSpawned     = "spawned"
	EventSpawnFailed = "spawn_failed"
	EventReaped      = "reaped"
)

// WorkerEvent is one entry of the supervisor accounting ledger.
type WorkerEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	PID       int       `json:"pid,omitempty"`
	Slot      int       `json:"slot"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Rotation ---

// OutcomeKind classifies the result of one dispatch attempt.
type OutcomeKind int

const (
	// OutcomeSkipped means no database was visited (empty tenant list).
	OutcomeSkipped OutcomeKind = iota
	// OutcomeClaimed means the feature is active and Claimed jobs were taken (possibly zero).
	OutcomeClaimed
	// OutcomeNotApplicable means the feature is absent or the database is not an instance.
	OutcomeNotApplicable
	// OutcomeFailed means the database could not be checked or dispatched.
	OutcomeFailed
)

// String returns a label suitable for logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeClaimed:
		return "claimed"
	case OutcomeNotApplicable:
		return "not_applicable"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DispatchOutcome is the result of one tick against one tenant database.
type DispatchOutcome struct {
	Kind     OutcomeKind
	Database string
	Claimed  int
}
