package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Jobs
	JobsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrator_jobs_queued_total",
			Help: "Jobs pushed onto the backlog",
		},
	)
	JobsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrator_jobs_duplicate_total",
			Help: "queueJob calls for an id already in the backlog",
		},
	)
	JobsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrator_jobs_fetched_total",
			Help: "Jobs claimed from the backlog",
		},
	)
	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrator_jobs_completed_total",
			Help: "Jobs recorded in the completed ledger",
		},
	)
	JobsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrator_jobs_requeued_total",
			Help: "Jobs pushed back after a failed transfer",
		},
	)
	BacklogDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_backlog_documents",
			Help: "Documents in the backlog as of the last count",
		},
	)
	CompletedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_completed_documents",
			Help: "Documents in the completed ledger as of the last count",
		},
	)

	// Initialize
	InitializeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_initialize_runs_total",
			Help: "Initialize runs by result",
		},
		[]string{"result"}, // ok|error
	)
	StageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrator_initialize_stage_duration_seconds",
			Help:    "Duration of initialize stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms..163s
		},
		[]string{"stage"},
	)

	// Transfer
	TransferDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "migrator_transfer_duration_seconds",
			Help:    "Duration of single job transfers",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s..512s
		},
	)

	// Source / store ops
	SourceQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_source_queries_total",
			Help: "Queries issued against the source system",
		},
		[]string{"op"}, // op: discover|count
	)
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_store_ops_total",
			Help: "Shared store operations performed",
		},
		[]string{"backend", "op"},
	)

	// HTTP
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path"},
	)
	HTTPErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP request errors.",
		},
		[]string{"method", "path", "status"},
	)

	// Errors
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_errors_total",
			Help: "Errors encountered in components",
		},
		[]string{"component", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		// Jobs
		JobsQueued,
		JobsDuplicate,
		JobsFetched,
		JobsCompleted,
		JobsRequeued,
		BacklogDocuments,
		CompletedDocuments,
		// Initialize
		InitializeRuns,
		StageDurationSeconds,
		// Transfer
		TransferDurationSeconds,
		// Source / store
		SourceQueries,
		StoreOps,
		// HTTP
		HTTPRequestDuration,
		HTTPRequests,
		HTTPErrors,
		// Errors
		Errors,
	)
}

// StartMetricsServer blocks serving /metrics on addr.
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// Jobs
func IncJobsQueued() {
	JobsQueued.Inc()
}

func IncJobsDuplicate() {
	JobsDuplicate.Inc()
}

func IncJobsFetched() {
	JobsFetched.Inc()
}

func IncJobsCompleted() {
	JobsCompleted.Inc()
}

func IncJobsRequeued() {
	JobsRequeued.Inc()
}

func SetBacklogDocuments(n int64) {
	BacklogDocuments.Set(float64(n))
}

func SetCompletedDocuments(n int64) {
	CompletedDocuments.Set(float64(n))
}

// Initialize
func IncInitializeRun(result string) {
	InitializeRuns.WithLabelValues(result).Inc()
}

func ObserveStageDuration(stage string, d time.Duration) {
	StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// Transfer
func ObserveTransferDuration(d time.Duration) {
	TransferDurationSeconds.Observe(d.Seconds())
}

// Source / store
func IncSourceQuery(op string) {
	SourceQueries.WithLabelValues(op).Inc()
}

func IncStoreOp(backend, op string) {
	StoreOps.WithLabelValues(backend, op).Inc()
}

// HTTP
func ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequests.WithLabelValues(method, path).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
	if status >= 400 {
		HTTPErrors.WithLabelValues(method, path, code).Inc()
	}
}

// Errors
func IncError(component, typ string) {
	Errors.WithLabelValues(component, typ).Inc()
}
