// Package storage defines the supervisor's accounting ledger.
package storage

import (
	"context"
	"time"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// Ledger records worker lifecycle events. The supervisor is its only writer;
// the status server reads it and the pruner trims it.
type Ledger interface {
	AppendEvents(ctx context.Context, events []connector.WorkerEvent) error
	ListEvents(ctx context.Context, limit int) ([]connector.WorkerEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
