// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts /start and /move calls, one per dispatch attempt.
	APIRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
	)

	// JobLatency measures how long a /move request waits for its result.
	JobLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_latency_seconds",
			Help:    "Time waiting for the engine result of a submitted move.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// HttpRequestsTotal counts HTTP requests by route, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// EngineRequestsTotal counts engine invocations on the worker.
	EngineRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_requests_total",
			Help: "How many engine requests the worker issued.",
		},
	)

	// EngineComputeSeconds measures a single engine search.
	EngineComputeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_compute_seconds",
			Help:    "Wall-clock time of one engine best-move computation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// WorkerJobsTotal counts jobs handled by the worker, by outcome.
	WorkerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Total number of jobs processed by the worker.",
		},
		[]string{"status"}, // ok, error, dropped
	)

	// QueueDepth is the last sampled number of pending jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "job_queue_depth",
			Help: "Number of jobs waiting in the queue at the last sample.",
		},
	)

	// RegisteredWorkers is the number of workers currently announced in etcd.
	RegisteredWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registered_workers",
			Help: "Number of worker processes registered in etcd.",
		},
	)
)
