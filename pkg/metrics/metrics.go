// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// GatewayCallDuration tracks generation backend call duration.
	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Generation backend call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"op", "status"},
	)

	// GatewayInflight tracks concurrent in-flight generation backend calls.
	GatewayInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_inflight_calls",
			Help: "Concurrent in-flight generation backend calls",
		},
	)

	// LayersPublished tracks speculative layers published.
	LayersPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speculation_layers_published_total",
			Help: "Total speculative layers published",
		},
	)

	// LayerEntriesCompleted tracks layer entries by final status.
	LayerEntriesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speculation_entries_completed_total",
			Help: "Layer entries completed, by outcome",
		},
		[]string{"outcome"},
	)

	// StaleWritesDiscarded tracks results dropped because their layer was superseded.
	StaleWritesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speculation_stale_writes_discarded_total",
			Help: "Background results discarded for superseded layers",
		},
	)

	// SelectsServed tracks follow-up selections by serve source.
	SelectsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speculation_selects_total",
			Help: "Follow-up selections served, by source",
		},
		[]string{"source"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionsTotal tracks total sessions created.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_total",
			Help: "Total chat sessions created",
		},
		[]string{"tenant_id"},
	)

	// TurnsTotal tracks total conversation turns appended.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Total conversation turns appended",
		},
		[]string{"tenant_id"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGatewayCall records metrics for a generation backend call.
func RecordGatewayCall(op, status string, duration float64) {
	GatewayCallDuration.WithLabelValues(op, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
