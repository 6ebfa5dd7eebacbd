package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service. Following the
// explicit dependency injection pattern, this struct is passed to every
// component that records metrics; nothing registers against package-level
// globals.
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Escrow processing
	snapshotsBuiltTotal    *prometheus.CounterVec
	escrowStatusGauge      *prometheus.GaugeVec
	costEstimatesTotal     *prometheus.CounterVec
	fillValidationsTotal   *prometheus.CounterVec
	staleCompletionsTotal  *prometheus.CounterVec

	// Polling
	pollWorkflowExecutionsTotal *prometheus.CounterVec
	pollActivityDuration        *prometheus.HistogramVec

	// Database
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		snapshotsBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_snapshots_built_total",
				Help: "Total number of escrow snapshots built",
			},
			[]string{"status"},
		),
		escrowStatusGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "escrow_watch_status",
				Help: "Last observed status per watched escrow (1 = current status)",
			},
			[]string{"address", "status"},
		),
		costEstimatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cost_estimates_total",
				Help: "Total number of cost estimates by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		fillValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fill_validations_total",
				Help: "Total number of fill-amount validations by outcome",
			},
			[]string{"outcome"},
		),
		staleCompletionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stale_completions_discarded_total",
				Help: "Fetch completions discarded because a newer request superseded them",
			},
			[]string{"resource"},
		),
		pollWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_workflow_executions_total",
				Help: "Total number of escrow poll workflow executions",
			},
			[]string{"address", "status"},
		),
		pollActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_activity_duration_seconds",
				Help:    "Duration of escrow poll activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its outcome and duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a 429 from the RPC endpoint.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt with its reason.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordSnapshotBuilt records a snapshot build by derived status.
func (m *Metrics) RecordSnapshotBuilt(status string) {
	m.snapshotsBuiltTotal.WithLabelValues(status).Inc()
}

// SetEscrowStatus marks the current status of a watched escrow, clearing
// the other status values for that address.
func (m *Metrics) SetEscrowStatus(address, status string) {
	for _, s := range []string{"active", "filled", "expired"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.escrowStatusGauge.WithLabelValues(address, s).Set(v)
	}
}

// RecordCostEstimate records a cost estimate by operation and outcome.
func (m *Metrics) RecordCostEstimate(operation, status string) {
	m.costEstimatesTotal.WithLabelValues(operation, status).Inc()
}

// RecordFillValidation records a fill validation outcome.
func (m *Metrics) RecordFillValidation(outcome string) {
	m.fillValidationsTotal.WithLabelValues(outcome).Inc()
}

// RecordStaleCompletion records a discarded stale fetch completion.
func (m *Metrics) RecordStaleCompletion(resource string) {
	m.staleCompletionsTotal.WithLabelValues(resource).Inc()
}

// RecordPollExecution records an escrow poll workflow run.
func (m *Metrics) RecordPollExecution(address, status string) {
	m.pollWorkflowExecutionsTotal.WithLabelValues(address, status).Inc()
}

// RecordPollActivity records an activity duration.
func (m *Metrics) RecordPollActivity(activity string, duration float64) {
	m.pollActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordDBOperation records a database operation outcome.
func (m *Metrics) RecordDBOperation(operation, status string) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records an HTTP request with its status and duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := strconv.Itoa(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
}

// RecordNATSPublish records a NATS publish outcome.
func (m *Metrics) RecordNATSPublish(subject, status string) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
}
