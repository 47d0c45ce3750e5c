package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry manages all Prometheus metrics for errledger.
type Registry struct {
	config   Config
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpActiveRequests  *prometheus.GaugeVec

	// Store metrics
	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbQueryErrors   *prometheus.CounterVec

	// Workflow metrics
	workflowExecutionsTotal   *prometheus.CounterVec
	workflowExecutionDuration *prometheus.HistogramVec
	workflowActiveCount       *prometheus.GaugeVec

	// Ingest metrics
	ingestEventsTotal   *prometheus.CounterVec
	ingestErrorsTotal   *prometheus.CounterVec
	ingestLinksTotal    *prometheus.CounterVec
	ingestEventDuration *prometheus.HistogramVec

	// Reconcile metrics
	reconcileBatchSize      prometheus.Histogram
	reconcileRemovedLinks   prometheus.Counter
	reconcileUpdatesTotal   *prometheus.CounterVec
	reconcileAnomaliesTotal *prometheus.CounterVec
	reconcileResumesTotal   *prometheus.CounterVec

	// Integration metrics
	integrationCallsTotal   *prometheus.CounterVec
	integrationCallDuration *prometheus.HistogramVec
	integrationErrors       *prometheus.CounterVec

	mu sync.RWMutex
}

// NewRegistry creates a new metrics registry with the given configuration.
func NewRegistry(config Config) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		config:   config,
		registry: reg,
	}

	r.registerHTTPMetrics()
	r.registerDatabaseMetrics()
	r.registerWorkflowMetrics()
	r.registerIngestMetrics()
	r.registerReconcileMetrics()
	r.registerIntegrationMetrics()

	// Register process and runtime metrics if enabled
	if config.EnableProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if config.EnableRuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.config
}

func (r *Registry) registerHTTPMetrics() {
	ns := r.config.Namespace

	r.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status_code"},
	)

	r.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   r.config.HistogramBuckets.HTTPDuration,
		},
		[]string{"method", "path"},
	)

	r.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   r.config.HistogramBuckets.HTTPSize,
		},
		[]string{"method", "path"},
	)

	r.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   r.config.HistogramBuckets.HTTPSize,
		},
		[]string{"method", "path"},
	)

	r.httpActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests",
		},
		[]string{"method", "path"},
	)

	r.registry.MustRegister(
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpRequestSize,
		r.httpResponseSize,
		r.httpActiveRequests,
	)
}

func (r *Registry) registerDatabaseMetrics() {
	ns := r.config.Namespace

	r.dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "queries_total",
			Help:      "Total number of store operations executed",
		},
		[]string{"operation", "table", "status"},
	)

	r.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   r.config.HistogramBuckets.DBDuration,
		},
		[]string{"operation", "table"},
	)

	r.dbQueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of store operation errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	r.registry.MustRegister(
		r.dbQueriesTotal,
		r.dbQueryDuration,
		r.dbQueryErrors,
	)
}

func (r *Registry) registerWorkflowMetrics() {
	ns := r.config.Namespace

	r.workflowExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"workflow_name", "status"},
	)

	r.workflowExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   r.config.HistogramBuckets.WorkflowDuration,
		},
		[]string{"workflow_name"},
	)

	r.workflowActiveCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "workflow",
			Name:      "active_count",
			Help:      "Number of currently active workflow executions",
		},
		[]string{"workflow_name"},
	)

	r.registry.MustRegister(
		r.workflowExecutionsTotal,
		r.workflowExecutionDuration,
		r.workflowActiveCount,
	)
}

func (r *Registry) registerIngestMetrics() {
	ns := r.config.Namespace

	r.ingestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	r.ingestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "ingest",
			Name:      "error_occurrences_total",
			Help:      "Total number of error occurrences ingested by error type",
		},
		[]string{"error_type"},
	)

	r.ingestLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "ingest",
			Name:      "links_total",
			Help:      "Total number of execution/error links changed by action",
		},
		[]string{"action"},
	)

	r.ingestEventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "ingest",
			Name:      "event_duration_seconds",
			Help:      "Event application duration in seconds",
			Buckets:   r.config.HistogramBuckets.DBDuration,
		},
		[]string{"kind"},
	)

	r.registry.MustRegister(
		r.ingestEventsTotal,
		r.ingestErrorsTotal,
		r.ingestLinksTotal,
		r.ingestEventDuration,
	)
}

func (r *Registry) registerReconcileMetrics() {
	ns := r.config.Namespace

	r.reconcileBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "reconcile",
			Name:      "batch_size",
			Help:      "Number of link removals per change feed batch",
			Buckets:   r.config.HistogramBuckets.BatchSize,
		},
	)

	r.reconcileRemovedLinks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "reconcile",
			Name:      "removed_links_total",
			Help:      "Total number of link removals reconciled",
		},
	)

	r.reconcileUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "reconcile",
			Name:      "updates_total",
			Help:      "Total number of aggregate updates by entity and outcome",
		},
		[]string{"entity", "outcome"},
	)

	r.reconcileAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "reconcile",
			Name:      "anomalies_total",
			Help:      "Total number of consistency anomalies observed",
		},
		[]string{"kind"},
	)

	r.reconcileResumesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "reconcile",
			Name:      "resumes_total",
			Help:      "Total number of paused execution resumptions by outcome",
		},
		[]string{"outcome"},
	)

	r.registry.MustRegister(
		r.reconcileBatchSize,
		r.reconcileRemovedLinks,
		r.reconcileUpdatesTotal,
		r.reconcileAnomaliesTotal,
		r.reconcileResumesTotal,
	)
}

func (r *Registry) registerIntegrationMetrics() {
	ns := r.config.Namespace

	r.integrationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "integration",
			Name:      "calls_total",
			Help:      "Total number of external calls",
		},
		[]string{"service_name", "operation", "status"},
	)

	r.integrationCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "integration",
			Name:      "call_duration_seconds",
			Help:      "External call duration in seconds",
			Buckets:   r.config.HistogramBuckets.IntegrationDuration,
		},
		[]string{"service_name", "operation"},
	)

	r.integrationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "integration",
			Name:      "errors_total",
			Help:      "Total number of external call errors",
		},
		[]string{"service_name", "operation", "error_type"},
	)

	r.registry.MustRegister(
		r.integrationCallsTotal,
		r.integrationCallDuration,
		r.integrationErrors,
	)
}
