package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maypok86/otter/v2"
	"github.com/rs/dnscache"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// PoolsOptions configures Pools.
type PoolsOptions struct {
	MaxPools int           // cached pools, default 64
	IdleTTL  time.Duration // a pool unused this long is closed, default 10m
	Resolver *dnscache.Resolver
}

// Pools hands out one lazily-connected pgxpool per tenant database, all
// derived from a single template DSN. Pools are cached in a bounded otter
// cache. An evicted or expired pool is closed once its last lease is
// released.
type Pools struct {
	base     *pgxpool.Config
	resolver *dnscache.Resolver

	mu     sync.Mutex // serializes pool creation
	closed bool
	cache  *otter.Cache[string, *poolEntry]
}

// poolEntry counts the leases on a cached pool.
type poolEntry struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	leases  int
	evicted bool
	closed  bool
}

// acquire takes a lease unless the entry was already evicted.
func (e *poolEntry) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	e.leases++
	return true
}

func (e *poolEntry) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leases--
	e.closeIfIdle()
}

func (e *poolEntry) evict() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = true
	e.closeIfIdle()
}

// closeIfIdle must be called with e.mu held.
func (e *poolEntry) closeIfIdle() {
	if !e.evicted || e.leases > 0 || e.closed {
		return
	}
	e.closed = true
	// Close waits for in-flight connections, so it must not block the caller.
	go e.pool.Close()
}

func (e *poolEntry) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// lease is a Conn backed by a cached pool.
type lease struct {
	*pgxpool.Pool
	entry *poolEntry
	once  sync.Once
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *lease) Release() {
	l.once.Do(l.entry.release)
}

// NewPools parses dsn as the template for every tenant connection. The
// database named in dsn is the maintenance database used for enumeration.
func NewPools(dsn string, opts PoolsOptions) (*Pools, error) {
	base, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tenant dsn: %w", err)
	}
	if opts.MaxPools <= 0 {
		opts.MaxPools = 64
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}

	c, err := otter.New[string, *poolEntry](&otter.Options[string, *poolEntry]{
		MaximumSize:      opts.MaxPools,
		ExpiryCalculator: otter.ExpiryAccessing[string, *poolEntry](opts.IdleTTL),
		OnDeletion: func(e otter.DeletionEvent[string, *poolEntry]) {
			slog.LogAttrs(context.Background(), slog.LevelDebug, "tenant pool evicted",
				slog.String("db", e.Key),
				slog.Any("cause", e.Cause),
			)
			e.Value.evict()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create pool cache: %w", err)
	}
	return &Pools{base: base, resolver: opts.Resolver, cache: c}, nil
}

// MaintenanceDB returns the database named in the template DSN.
func (p *Pools) MaintenanceDB() string {
	return p.base.ConnConfig.Database
}

// Acquire leases the pool for name, creating it on first use. The caller
// must Release the returned Conn.
func (p *Pools) Acquire(ctx context.Context, name string) (Conn, error) {
	if e, ok := p.cache.GetIfPresent(name); ok && e.acquire() {
		return &lease{Pool: e.pool, entry: e}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, connector.ErrPoolClosed
	}
	if e, ok := p.cache.GetIfPresent(name); ok && e.acquire() {
		return &lease{Pool: e.pool, entry: e}, nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, p.config(name))
	if err != nil {
		return nil, fmt.Errorf("open pool for %s: %w", name, err)
	}
	// The first lease is taken before the entry is visible, so an immediate
	// eviction cannot close the pool under the caller.
	e := &poolEntry{pool: pool, leases: 1}
	p.cache.Set(name, e)
	return &lease{Pool: pool, entry: e}, nil
}

func (p *Pools) config(name string) *pgxpool.Config {
	cfg := p.base.Copy()
	cfg.ConnConfig.Database = name
	if p.resolver != nil {
		cfg.ConnConfig.LookupFunc = p.resolver.LookupHost
	}
	return cfg
}

// Len returns the approximate number of cached pools.
func (p *Pools) Len() int {
	return p.cache.EstimatedSize()
}

// RefreshDNS refreshes cached host lookups and drops entries that were not
// used since the previous refresh.
func (p *Pools) RefreshDNS() {
	if p.resolver != nil {
		p.resolver.Refresh(true)
	}
}

// Close evicts every cached pool; each closes once its leases are released.
// Later calls to Acquire fail with connector.ErrPoolClosed.
func (p *Pools) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cache.InvalidateAll()
}
