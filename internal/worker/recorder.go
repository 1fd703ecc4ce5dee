package worker

import (
	"context"
	"log/slog"
	"time"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

const (
	eventChanSize   = 256
	eventBatchSize  = 32
	eventFlushEvery = 2 * time.Second
	eventDrainTime  = 10 * time.Second
)

// EventSink is the persistence interface consumed by EventRecorder.
type EventSink interface {
	AppendEvents(ctx context.Context, events []connector.WorkerEvent) error
}

// EventRecorder buffers worker lifecycle events and batch-flushes them to
// the ledger, keeping SQLite writes off the supervisor loop. Events are
// dropped if the channel is full.
type EventRecorder struct {
	ch   chan connector.WorkerEvent
	sink EventSink
}

// NewEventRecorder creates an EventRecorder backed by sink.
func NewEventRecorder(sink EventSink) *EventRecorder {
	return &EventRecorder{
		ch:   make(chan connector.WorkerEvent, eventChanSize),
		sink: sink,
	}
}

// Name returns the worker identifier.
func (r *EventRecorder) Name() string { return "event_recorder" }

// Record enqueues an event. It never blocks.
func (r *EventRecorder) Record(e connector.WorkerEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case r.ch <- e:
	default:
		slog.Warn("worker event dropped, channel full", "kind", e.Kind, "slot", e.Slot)
	}
}

// Run flushes events until ctx is cancelled, then drains what is left.
func (r *EventRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(eventFlushEvery)
	defer ticker.Stop()

	buf := make([]connector.WorkerEvent, 0, eventBatchSize)

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= eventBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			r.drain(buf)
			return nil
		}
	}
}

func (r *EventRecorder) drain(buf []connector.WorkerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventDrainTime)
	defer cancel()

	for {
		select {
		case e := <-r.ch:
			buf = append(buf, e)
			if len(buf) >= eventBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				r.flush(ctx, buf)
			}
			return
		}
	}
}

func (r *EventRecorder) flush(ctx context.Context, buf []connector.WorkerEvent) {
	batch := make([]connector.WorkerEvent, len(buf))
	copy(batch, buf)

	if err := r.sink.AppendEvents(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "worker event flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
