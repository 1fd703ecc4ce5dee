package worker

import (
	"context"
	"log/slog"
	"time"
)

const pruneInterval = time.Hour

// EventPruner is the persistence interface consumed by LedgerPruner.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// LedgerPruner periodically deletes ledger events older than a retention
// window.
type LedgerPruner struct {
	store     EventPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewLedgerPruner creates a pruner keeping retention worth of events.
func NewLedgerPruner(store EventPruner, retention time.Duration) *LedgerPruner {
	return &LedgerPruner{store: store, retention: retention, interval: pruneInterval, now: time.Now}
}

// Name returns the worker identifier.
func (w *LedgerPruner) Name() string { return "ledger_pruner" }

// Run prunes once at start, then on every interval until ctx is cancelled.
func (w *LedgerPruner) Run(ctx context.Context) error {
	w.prune(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *LedgerPruner) prune(ctx context.Context) {
	cutoff := w.now().UTC().Add(-w.retention)
	n, err := w.store.PruneEvents(ctx, cutoff)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "ledger prune failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.Info("ledger pruned", "events", n, "before", cutoff.Format(time.RFC3339))
	}
}
