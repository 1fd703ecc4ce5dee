package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

const defaultEventLimit = 100

// AppendEvents inserts a batch of events in one transaction. ID and
// CreatedAt are filled in place when empty.
func (s *Store) AppendEvents(ctx context.Context, events []connector.WorkerEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO worker_events (id, kind, pid, slot, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		fillEvent(e)
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Kind, e.PID, e.Slot, nullStr(e.Detail), e.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]connector.WorkerEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, kind, pid, slot, detail, created_at
		 FROM worker_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []connector.WorkerEvent
	for rows.Next() {
		var e connector.WorkerEvent
		var detail sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.PID, &e.Slot, &detail, &createdAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents deletes events created before the cutoff and returns how many
// were removed.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM worker_events WHERE created_at < ?`, before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func fillEvent(e *connector.WorkerEvent) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
