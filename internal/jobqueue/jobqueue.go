// Package jobqueue claims pending jobs from a tenant's job queue on behalf of
// a poll worker.
//
// Claiming is a single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so
// concurrent workers polling the same tenant never claim the same row.
package jobqueue

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/youwenMonkey/odoo-connector/internal/tenant"
)

// Assigner assigns up to maxJobs pending jobs in db to workerID and marks
// them enqueued, returning the number claimed. Implementations must be safe
// for concurrent use by several workers against the same tenant.
type Assigner interface {
	AssignThenEnqueue(ctx context.Context, db, workerID string, maxJobs int) (int, error)
}

// Job states written by the claim.
const (
	StatePending  = "pending"
	StateEnqueued = "enqueued"
)

// PGAssigner claims jobs from the queue_job table of a tenant database.
type PGAssigner struct {
	src tenant.Source
}

// NewPGAssigner creates an Assigner over the given tenant pools.
func NewPGAssigner(src tenant.Source) *PGAssigner {
	return &PGAssigner{src: src}
}

// AssignThenEnqueue implements Assigner.
func (a *PGAssigner) AssignThenEnqueue(ctx context.Context, db, workerID string, maxJobs int) (int, error) {
	if maxJobs <= 0 {
		return 0, nil
	}
	query, args, err := claimQuery(workerID, maxJobs)
	if err != nil {
		return 0, fmt.Errorf("assign jobs: build query: %w", err)
	}
	conn, err := a.src.Acquire(ctx, db)
	if err != nil {
		return 0, err
	}
	defer conn.Release()
	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("assign jobs in %s: %w", db, err)
	}
	return int(tag.RowsAffected()), nil
}

// claimQuery builds the UPDATE that assigns the oldest due pending jobs.
func claimQuery(workerID string, maxJobs int) (string, []any, error) {
	pending := sq.Select("id").
		From("queue_job").
		Where("worker_uuid IS NULL").
		Where(sq.Eq{"state": StatePending}).
		Where("(eta IS NULL OR eta <= now())").
		OrderBy("priority", "eta NULLS FIRST", "date_created").
		Limit(uint64(maxJobs)). //nolint:gosec // G115: maxJobs checked positive by caller
		Suffix("FOR UPDATE SKIP LOCKED")

	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Update("queue_job").
		Set("worker_uuid", workerID).
		Set("state", StateEnqueued).
		Set("date_enqueued", sq.Expr("now()")).
		Where(sq.Expr("id IN (?)", pending)).
		ToSql()
}
