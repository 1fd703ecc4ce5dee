// Package server implements the supervisor's status HTTP endpoints.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	connector "github.com/youwenMonkey/odoo-connector/internal"
	"github.com/youwenMonkey/odoo-connector/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Registry exposes the supervisor's worker registry.
type Registry interface {
	Snapshot() []connector.WorkerRecord
	Lookup(slot int) (connector.WorkerRecord, error)
}

// EventLister reads the accounting ledger.
type EventLister interface {
	ListEvents(ctx context.Context, limit int) ([]connector.WorkerEvent, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Workers        Registry
	Events         EventLister           // nil = /events disabled
	Titles         func(slot int) string // nil = titles unknown
	ReadyCheck     ReadyChecker          // nil = always ready (for tests)
	Metrics        *telemetry.Metrics    // nil = no request metrics
	MetricsHandler http.Handler          // nil = /metrics disabled
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/workers", s.handleListWorkers)
	r.Get("/workers/{slot}", s.handleGetWorker)
	if deps.Events != nil {
		r.Get("/events", s.handleListEvents)
	}

	return r
}

type server struct {
	deps Deps
}
