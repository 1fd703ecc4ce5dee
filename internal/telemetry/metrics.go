// Package telemetry provides observability primitives for the connector worker pool.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "connector"

// Metrics holds all Prometheus collectors for the supervisor, its workers
// and the status server.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	WorkersLive   prometheus.Gauge
	Spawns        prometheus.Counter
	SpawnFailures prometheus.Counter
	Reaps         *prometheus.CounterVec

	Ticks        *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec
	JobsClaimed  prometheus.Counter
	CycleSleeps  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of status server HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "request_duration_seconds",
			Help:                            "Status server request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of status server requests in flight.",
		}),

		WorkersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_live",
			Help:      "Number of workers currently registered with the supervisor.",
		}),

		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawns_total",
			Help:      "Total workers spawned.",
		}),

		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawn_failures_total",
			Help:      "Total failed worker spawn attempts.",
		}),

		Reaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_reaps_total",
			Help:      "Total workers reaped, by exit result.",
		}, []string{"result"}),

		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Total poll ticks, by dispatch outcome.",
		}, []string{"outcome"}),

		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "dispatch_duration_seconds",
			Help:                            "Duration of a single tenant dispatch in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"outcome"}),

		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Total jobs assigned to workers and enqueued.",
		}),

		CycleSleeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_sleeps_total",
			Help:      "Total end-of-rotation sleeps taken by workers.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.WorkersLive,
		m.Spawns,
		m.SpawnFailures,
		m.Reaps,
		m.Ticks,
		m.TickDuration,
		m.JobsClaimed,
		m.CycleSleeps,
	)

	return m
}
