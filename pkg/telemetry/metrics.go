package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	APIJobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "api",
		Name:      "jobs_submitted_total",
		Help:      "Total generation jobs accepted by the API.",
	}, []string{"kind"})

	APISubmissionsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "api",
		Name:      "submissions_rate_limited_total",
		Help:      "Total submissions rejected by the rate limiter.",
	})

	APIStreamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shoptimizer",
		Subsystem: "api",
		Name:      "streams_open",
		Help:      "SSE notification streams currently open.",
	})

	APIStreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "api",
		Name:      "stream_events_total",
		Help:      "Status update events pushed to SSE clients, labelled by status.",
	}, []string{"status"})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total jobs processed, labelled by kind and terminal status.",
	}, []string{"kind", "status"})

	WorkerJobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shoptimizer",
		Subsystem: "worker",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being executed.",
	})

	WorkerJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shoptimizer",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "End-to-end job execution time in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	WorkerResultWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "worker",
		Name:      "result_write_failures_total",
		Help:      "Terminal result writes that failed after all retries.",
	})

	WorkerJobsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "worker",
		Name:      "revoked_total",
		Help:      "Jobs skipped or interrupted because of a cancellation request.",
	})

	// ─── Janitor ─────────────────────────────────────────────────────────────────

	JanitorRowsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "janitor",
		Name:      "rows_pruned_total",
		Help:      "Terminal catalog rows removed by the retention sweep.",
	})

	JanitorRowsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shoptimizer",
		Subsystem: "janitor",
		Name:      "rows_timed_out_total",
		Help:      "Stuck catalog rows flagged as timed out.",
	})
)
