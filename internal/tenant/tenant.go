// Package tenant enumerates tenant databases on a Postgres server and
// answers per-tenant eligibility queries.
package tenant

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Lister returns the current tenant database names. Workers call it on
// every tick, so the list may grow or shrink between calls.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Checker reports whether a tenant database has the job-processing feature
// installed. A database that is not a connector instance at all yields an
// error wrapping connector.ErrNotInstance.
type Checker interface {
	Eligible(ctx context.Context, db string) (bool, error)
}

// DB is the subset of *pgxpool.Pool used against a single database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a DB lease. The underlying pool stays open until Release is
// called, even if it is evicted from the cache meanwhile.
type Conn interface {
	DB
	Release()
}

// Source leases a connection pool for a database name.
type Source interface {
	Acquire(ctx context.Context, name string) (Conn, error)
}

// Static lists a fixed set of databases, typically from configuration.
type Static []string

// List returns a copy of the configured names.
func (s Static) List(context.Context) ([]string, error) {
	return slices.Clone([]string(s)), nil
}
