package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec

	// Payment Pipeline Metrics
	transfersBuiltTotal  *prometheus.CounterVec
	signingTotal         *prometheus.CounterVec
	submissionsTotal     *prometheus.CounterVec
	confirmationsTotal   *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec

	// Workflow Metrics
	paymentWorkflowDuration        *prometheus.HistogramVec
	paymentWorkflowExecutionsTotal *prometheus.CounterVec
	paymentActivityDuration        *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
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

		// Payment Pipeline Metrics
		transfersBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_built_total",
				Help: "Total number of unsigned transfer builds by strategy, asset and outcome",
			},
			[]string{"strategy", "asset", "outcome"},
		),
		signingTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_signing_total",
				Help: "Total number of signing requests handed to a wallet by outcome",
			},
			[]string{"outcome"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_submitted_total",
				Help: "Total number of signed transaction submissions by outcome",
			},
			[]string{"outcome"},
		),
		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_confirmations_total",
				Help: "Total number of confirmation waits by final status",
			},
			[]string{"status"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_duration_seconds",
				Help:    "Time from submission to final confirmation status in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
			},
			[]string{"status"},
		),

		// Workflow Metrics
		paymentWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_workflow_duration_seconds",
				Help:    "Duration of payment workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		paymentWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_workflow_executions_total",
				Help: "Total number of payment workflow executions",
			},
			[]string{"status"},
		),
		paymentActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_activity_duration_seconds",
				Help:    "Duration of payment workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// HTTP Metrics
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

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// Payment pipeline metric helpers

// RecordTransferBuilt records an unsigned transaction build attempt.
func (m *Metrics) RecordTransferBuilt(strategy, asset, outcome string) {
	m.transfersBuiltTotal.WithLabelValues(strategy, asset, outcome).Inc()
}

// RecordSigning records the outcome of a wallet signing request.
func (m *Metrics) RecordSigning(outcome string) {
	m.signingTotal.WithLabelValues(outcome).Inc()
}

// RecordSubmission records the outcome of a transaction submission.
func (m *Metrics) RecordSubmission(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConfirmation records how a confirmation wait ended and how long it took.
func (m *Metrics) RecordConfirmation(status string, duration float64) {
	m.confirmationsTotal.WithLabelValues(status).Inc()
	m.confirmationDuration.WithLabelValues(status).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.paymentWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.paymentWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.paymentActivityDuration.WithLabelValues(activity, status).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
