package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	connector "github.com/youwenMonkey/odoo-connector/internal"
	"github.com/youwenMonkey/odoo-connector/internal/jobqueue"
	"github.com/youwenMonkey/odoo-connector/internal/telemetry"
	"github.com/youwenMonkey/odoo-connector/internal/tenant"
)

const tracerName = "github.com/youwenMonkey/odoo-connector/worker"

// PollerDeps are the collaborators a Poller dispatches through.
type PollerDeps struct {
	Tenants tenant.Lister
	Checker tenant.Checker
	Jobs    jobqueue.Assigner
	Metrics *telemetry.Metrics // nil = no metrics
	Tracer  trace.Tracer       // nil = global provider
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Slot         int // logical identity in [0, Population)
	Population   int
	MaxJobs      int           // per-tick claim cap, default connector.DefaultMaxJobs
	BaseInterval time.Duration // default connector.DefaultBaseInterval
	WorkerID     string        // claim owner, default a fresh UUIDv7

	// OnTitle is called with the database a tick is about to visit.
	OnTitle func(db string)
}

// TickResult describes one completed tick.
type TickResult struct {
	Index    int // selected index, -1 for an empty tenant list
	Complete bool
	Outcome  connector.DispatchOutcome
}

// Poller is the rotating poll worker. Each tick visits the next tenant
// database in the list, claims pending jobs if the tenant is eligible, and
// sleeps only after a full rotation.
type Poller struct {
	deps   PollerDeps
	opts   PollerOptions
	cursor Cursor
	tracer trace.Tracer

	sleep func(ctx context.Context, d time.Duration) bool // testing hook
}

// NewPoller creates a Poller for one worker slot.
func NewPoller(deps PollerDeps, opts PollerOptions) *Poller {
	if opts.Population < 1 {
		opts.Population = 1
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = connector.DefaultMaxJobs
	}
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = connector.DefaultBaseInterval
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.Must(uuid.NewV7()).String()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(tracerName)
	}
	return &Poller{deps: deps, opts: opts, tracer: tracer, sleep: sleepCtx}
}

// Name returns the worker identifier.
func (p *Poller) Name() string { return "poller" }

// WorkerID returns the identifier jobs are claimed under.
func (p *Poller) WorkerID() string { return p.opts.WorkerID }

// Run ticks until ctx is cancelled or a tick fails. Cancellation is observed
// only between ticks and during the end-of-rotation sleep; a tick in progress
// always runs to completion.
func (p *Poller) Run(ctx context.Context) error {
	interval := SleepDuration(p.opts.BaseInterval, p.opts.Slot, p.opts.Population)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := p.Tick(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		if !res.Complete {
			continue
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.CycleSleeps.Inc()
		}
		if !p.sleep(ctx, interval) {
			return nil
		}
	}
}

// Tick performs one rotation step. A database that is not an instance is
// skipped without error; any other failure is returned and ends the worker.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	dbs, err := p.deps.Tenants.List(ctx)
	if err != nil {
		return TickResult{Index: -1}, fmt.Errorf("list tenants: %w", err)
	}

	index, complete := p.cursor.Advance(len(dbs))
	res := TickResult{Index: index, Complete: complete}
	if index < 0 {
		p.observe(res.Outcome, 0)
		return res, nil
	}

	db := dbs[index]
	if p.opts.OnTitle != nil {
		p.opts.OnTitle(db)
	}

	start := time.Now()
	res.Outcome, err = p.dispatch(ctx, db)
	p.observe(res.Outcome, time.Since(start))
	return res, err
}

// dispatch checks eligibility of db and claims its pending jobs.
func (p *Poller) dispatch(ctx context.Context, db string) (connector.DispatchOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "connector.dispatch",
		trace.WithAttributes(
			attribute.String("connector.db", db),
			attribute.Int("connector.slot", p.opts.Slot),
			attribute.String("connector.worker_id", p.opts.WorkerID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	out := connector.DispatchOutcome{Database: db}

	ok, err := p.deps.Checker.Eligible(ctx, db)
	if errors.Is(err, connector.ErrNotInstance) {
		slog.LogAttrs(ctx, slog.LevelDebug, "database is not a connector instance, skipped",
			slog.String("db", db),
			slog.Int("slot", p.opts.Slot),
		)
		out.Kind = connector.OutcomeNotApplicable
		span.SetStatus(codes.Ok, "")
		return out, nil
	}
	if err != nil {
		out.Kind = connector.OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("check %s: %w", db, err)
	}
	if !ok {
		out.Kind = connector.OutcomeNotApplicable
		span.SetStatus(codes.Ok, "")
		return out, nil
	}

	n, err := p.deps.Jobs.AssignThenEnqueue(ctx, db, p.opts.WorkerID, p.opts.MaxJobs)
	if err != nil {
		out.Kind = connector.OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("dispatch %s: %w", db, err)
	}
	out.Kind = connector.OutcomeClaimed
	out.Claimed = n
	span.SetAttributes(attribute.Int("connector.claimed", n))
	span.SetStatus(codes.Ok, "")

	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "jobs enqueued",
			slog.String("db", db),
			slog.Int("slot", p.opts.Slot),
			slog.Int("claimed", n),
		)
	}
	return out, nil
}

func (p *Poller) observe(out connector.DispatchOutcome, elapsed time.Duration) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	label := out.Kind.String()
	m.Ticks.WithLabelValues(label).Inc()
	if out.Database != "" {
		m.TickDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	}
	if out.Claimed > 0 {
		m.JobsClaimed.Add(float64(out.Claimed))
	}
}

// sleepCtx pauses for d and reports false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
