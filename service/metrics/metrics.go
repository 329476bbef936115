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
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Detection Metrics
	detectorCyclesTotal    *prometheus.CounterVec
	detectorCycleDuration  *prometheus.HistogramVec
	transfersDetectedTotal *prometheus.CounterVec
	transferAmountTotal    *prometheus.CounterVec

	// Collaborator Metrics
	notificationsSentTotal *prometheus.CounterVec
	priceLookupsTotal      *prometheus.CounterVec

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

		detectorCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detector_cycles_total",
				Help: "Total number of detection cycles by outcome",
			},
			[]string{"wallet_address", "outcome"},
		),
		detectorCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "detector_cycle_duration_seconds",
				Help:    "Duration of a detection cycle in seconds, excluding the poll sleep",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"wallet_address"},
		),
		transfersDetectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_detected_total",
				Help: "Total number of incoming transfers detected by extraction strategy",
			},
			[]string{"wallet_address", "strategy"},
		),
		transferAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_amount_sol_total",
				Help: "Sum of detected incoming transfer amounts in SOL",
			},
			[]string{"wallet_address"},
		),

		notificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notification deliveries by sink and status",
			},
			[]string{"sink", "status"},
		),
		priceLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_lookups_total",
				Help: "Total number of spot price lookups by status",
			},
			[]string{"asset", "status"},
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

// Detection metric helpers

// RecordCycle records one detection cycle and its outcome.
func (m *Metrics) RecordCycle(walletAddress, outcome string, duration float64) {
	m.detectorCyclesTotal.WithLabelValues(walletAddress, outcome).Inc()
	m.detectorCycleDuration.WithLabelValues(walletAddress).Observe(duration)
}

// RecordTransferDetected records a detected transfer and its amount in SOL.
func (m *Metrics) RecordTransferDetected(walletAddress, strategy string, amountSOL float64) {
	m.transfersDetectedTotal.WithLabelValues(walletAddress, strategy).Inc()
	m.transferAmountTotal.WithLabelValues(walletAddress).Add(amountSOL)
}

// Collaborator metric helpers

// RecordNotification records one delivery attempt to one recipient.
func (m *Metrics) RecordNotification(sink, status string) {
	m.notificationsSentTotal.WithLabelValues(sink, status).Inc()
}

// RecordPriceLookup records a spot price lookup.
func (m *Metrics) RecordPriceLookup(asset string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.priceLookupsTotal.WithLabelValues(asset, status).Inc()
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

func statusCodeToString(code int) string {
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
