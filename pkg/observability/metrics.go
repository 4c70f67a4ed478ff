// Package observability provides Prometheus metrics for monitoring the
// runbox execution service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets defines histogram buckets suited for code execution
// latencies, ranging from 10ms to 120s.
var ExecBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120}

var (
	// DispatchesTotal counts pool dispatches by outcome
	// (ok, execution_error, timeout, worker_crash, pool_exhausted, warming_up).
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_dispatches_total",
			Help: "Pool dispatches",
		},
		[]string{"status"},
	)

	// ExecuteDuration records end-to-end execute duration in seconds.
	ExecuteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_execute_duration_seconds",
			Help:    "Execute duration",
			Buckets: ExecBuckets,
		},
	)

	// WorkersByState tracks the number of pooled workers in each
	// lifecycle state.
	WorkersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runbox_workers",
			Help: "Workers by state",
		},
		[]string{"state"},
	)

	// WorkerRestartsTotal counts worker replacements by reason
	// (recycle, timeout, crash, probe_failure).
	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_worker_restarts_total",
			Help: "Worker restarts",
		},
		[]string{"reason"},
	)

	// PoolExhaustedTotal counts dispatches that found no READY worker
	// within the dispatch timeout.
	PoolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_pool_exhausted_total",
			Help: "Exhausted dispatches",
		},
	)

	// ProbeFailuresTotal counts failed health probes.
	ProbeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_health_probe_failures_total",
			Help: "Health probe failures",
		},
	)

	// ChangedFiles records the number of changed files per successful
	// execution.
	ChangedFiles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_changed_files",
			Help:    "Changed files per execution",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

func init() {
	prometheus.MustRegister(
		DispatchesTotal,
		ExecuteDuration,
		WorkersByState,
		WorkerRestartsTotal,
		PoolExhaustedTotal,
		ProbeFailuresTotal,
		ChangedFiles,
	)
}
