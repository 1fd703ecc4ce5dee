package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/youwenMonkey/odoo-connector/internal/config"
	"github.com/youwenMonkey/odoo-connector/internal/jobqueue"
	"github.com/youwenMonkey/odoo-connector/internal/prefork"
	"github.com/youwenMonkey/odoo-connector/internal/server"
	"github.com/youwenMonkey/odoo-connector/internal/storage"
	"github.com/youwenMonkey/odoo-connector/internal/storage/sqlite"
	"github.com/youwenMonkey/odoo-connector/internal/supervisor"
	"github.com/youwenMonkey/odoo-connector/internal/telemetry"
	"github.com/youwenMonkey/odoo-connector/internal/tenant"
	"github.com/youwenMonkey/odoo-connector/internal/worker"
)

// options carries the command-line settings.
type options struct {
	configPath string
	logLevel   string // overrides log.level when set
	slot       int
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// childArgs are the arguments a process-mode supervisor passes to its
// workers; the spawner appends -slot.
func childArgs(opts options) []string {
	args := []string{"-worker", "-config", opts.configPath}
	if opts.logLevel != "" {
		args = append(args, "-log-level", opts.logLevel)
	}
	return args
}

// run starts the supervisor and blocks until SIGINT or SIGTERM.
func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log, os.Stderr)

	slog.Info("starting connector supervisor",
		"version", version,
		"population", cfg.Pool.Population,
		"mode", cfg.Pool.Mode,
	)

	ctx, stop := signalContext()
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry.Tracing, "connector-supervisor")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	store, err := sqlite.New(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	err = supervise(ctx, cfg, opts, store)
	slog.Info("connector supervisor stopped")
	return err
}

// supervise runs the pool supervisor with its housekeeping workers and
// status server until ctx is cancelled.
func supervise(ctx context.Context, cfg *config.Config, opts options, ledger storage.Ledger) error {
	reg := prometheus.NewRegistry()
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
	}

	titles := worker.NewTitles()
	var (
		spawner prefork.Spawner
		bg      []worker.Worker
	)
	switch cfg.Pool.Mode {
	case config.ModeProcess:
		self, err := prefork.NewSelfSpawner(childArgs(opts)...)
		if err != nil {
			return err
		}
		spawner = self
	default:
		t, err := newTenants(cfg, metrics)
		if err != nil {
			return err
		}
		defer t.pools.Close()
		if metrics != nil {
			reg.MustRegister(poolGauge(t.pools))
		}
		bg = append(bg, t.background()...)
		spawner = prefork.NewFuncSpawner(func(ctx context.Context, slot int) error {
			return t.poller(cfg, slot, func(db string) { titles.Set(slot, db) }).Run(ctx)
		})
	}

	host := prefork.NewHost(spawner, prefork.Options{
		TickInterval: cfg.Pool.TickInterval,
		StopTimeout:  cfg.Pool.StopTimeout,
	})
	recorder := worker.NewEventRecorder(ledger)
	sup := supervisor.New(host, supervisor.Options{
		Population:      cfg.Pool.Population,
		SpawnBackoffMax: cfg.Pool.SpawnBackoffMax,
		Events:          recorder,
		Metrics:         metrics,
		OnReap:          titles.Clear,
	})

	workers := append([]worker.Worker{sup, worker.NewLedgerPruner(ledger, cfg.Database.Retention)}, bg...)
	if cfg.Status.Addr != "" {
		deps := server.Deps{
			Workers:    sup,
			Events:     ledger,
			Titles:     titles.Get,
			ReadyCheck: ledger.Ping,
			Metrics:    metrics,
		}
		if metrics != nil {
			deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		}
		workers = append(workers, server.NewService(cfg.Status.Addr, server.New(deps), cfg.Status.ShutdownTimeout))
	}

	// The recorder outlives the runner so reaps during shutdown reach the ledger.
	recCtx, recCancel := context.WithCancel(context.WithoutCancel(ctx))
	recDone := make(chan struct{})
	go func() {
		recorder.Run(recCtx)
		close(recDone)
	}()

	err := worker.NewRunner(workers...).Run(ctx)
	recCancel()
	<-recDone
	return err
}

// runWorker runs one poll worker in this process until SIGTERM. A dispatch
// failure ends the process with an error so the supervisor respawns it.
// Workers run without a metrics registry; the supervisor's spawn and reap
// metrics still cover them.
func runWorker(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log, os.Stderr)
	slot := opts.slot

	ctx, stop := signalContext()
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry.Tracing, "connector-worker")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	t, err := newTenants(cfg, nil)
	if err != nil {
		return err
	}
	defer t.pools.Close()

	p := t.poller(cfg, slot, func(db string) {
		slog.LogAttrs(context.Background(), slog.LevelDebug, "polling",
			slog.Int("slot", slot),
			slog.Int("pid", os.Getpid()),
			slog.String("db", db),
		)
	})
	slog.Info("worker started", "slot", slot, "pid", os.Getpid(), "worker_id", p.WorkerID())

	workers := append([]worker.Worker{p}, t.background()...)
	return worker.NewRunner(workers...).Run(ctx)
}

// tenants bundles the tenant-facing collaborators shared by the pollers of
// one process.
type tenants struct {
	pools   *tenant.Pools
	lister  tenant.Lister
	checker tenant.Checker
	jobs    jobqueue.Assigner
	metrics *telemetry.Metrics
	refresh config.TenantsConfig
}

func newTenants(cfg *config.Config, metrics *telemetry.Metrics) (*tenants, error) {
	resolver := &dnscache.Resolver{}
	pools, err := tenant.NewPools(cfg.Tenants.DSN, tenant.PoolsOptions{
		MaxPools: cfg.Tenants.PoolCacheSize,
		IdleTTL:  cfg.Tenants.PoolIdleTTL,
		Resolver: resolver,
	})
	if err != nil {
		return nil, err
	}

	var lister tenant.Lister
	if dbs := cfg.Poll.Databases(); dbs != nil {
		lister = tenant.Static(dbs)
	} else {
		lister = tenant.NewCatalog(pools, pools.MaintenanceDB(), cfg.Tenants.Exclude)
	}

	return &tenants{
		pools:   pools,
		lister:  lister,
		checker: tenant.NewFeatureChecker(pools, cfg.Poll.Feature),
		jobs:    jobqueue.NewPGAssigner(pools),
		metrics: metrics,
		refresh: cfg.Tenants,
	}, nil
}

func (t *tenants) poller(cfg *config.Config, slot int, onTitle func(string)) *worker.Poller {
	return worker.NewPoller(worker.PollerDeps{
		Tenants: t.lister,
		Checker: t.checker,
		Jobs:    t.jobs,
		Metrics: t.metrics,
	}, worker.PollerOptions{
		Slot:         slot,
		Population:   cfg.Pool.Population,
		MaxJobs:      cfg.Poll.MaxJobs,
		BaseInterval: cfg.Poll.BaseInterval,
		OnTitle:      onTitle,
	})
}

// background returns the housekeeping workers for the tenant pools.
func (t *tenants) background() []worker.Worker {
	if t.refresh.DNSRefresh <= 0 {
		return nil
	}
	return []worker.Worker{worker.NewDNSRefresher(t.pools.RefreshDNS, t.refresh.DNSRefresh)}
}

func poolGauge(pools *tenant.Pools) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "tenant_pools_open",
		Help:      "Number of cached tenant connection pools.",
	}, func() float64 { return float64(pools.Len()) })
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func setupLogger(cfg config.LogConfig, w io.Writer) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func setupTracing(ctx context.Context, cfg config.TracingConfig, service string) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	shutdown, err := telemetry.SetupTracing(ctx, service, cfg.Endpoint, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}, nil
}
