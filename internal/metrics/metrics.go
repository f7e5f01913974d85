// Package metrics provides Prometheus instrumentation for the FieldServe
// client. Collectors are registered via Init and exposed through Handler,
// which embedding applications (and the CLI) can mount for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts requests by endpoint, method, and outcome code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_requests_total",
			Help: "Total API requests issued",
		},
		[]string{"endpoint", "method", "code"},
	)

	// RequestDuration observes round-trip latency in seconds by endpoint.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldserve_client_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// InFlight tracks requests currently awaiting a response.
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldserve_client_in_flight_requests",
			Help: "Requests currently in flight",
		},
	)

	// RetriesTotal counts retry attempts by endpoint.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_retries_total",
			Help: "Total retry attempts",
		},
		[]string{"endpoint"},
	)

	// CircuitBreakerState reports the current breaker state per endpoint
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldserve_client_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=open, 2=half-open)",
		},
		[]string{"endpoint"},
	)

	// CircuitBreakerTransitions counts breaker state changes.
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"endpoint", "from", "to"},
	)

	// CircuitBreakerRejections counts requests rejected without a network
	// call because the breaker was open.
	CircuitBreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_circuit_breaker_rejections_total",
			Help: "Requests rejected locally by an open circuit breaker",
		},
		[]string{"endpoint"},
	)

	// BulkheadInFlight tracks concurrency slots held per endpoint.
	BulkheadInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldserve_client_bulkhead_in_flight",
			Help: "Concurrency slots currently held per endpoint",
		},
		[]string{"endpoint"},
	)

	// BulkheadRejections counts requests rejected at the concurrency cap.
	BulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_bulkhead_rejections_total",
			Help: "Requests rejected by the per-endpoint concurrency limit",
		},
		[]string{"endpoint"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// TokenRefreshes counts proactive and reactive token refreshes by outcome.
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldserve_client_token_refreshes_total",
			Help: "Total access-token refresh attempts",
		},
		[]string{"outcome"},
	)
)

var registered bool

// Init registers all collectors with the default Prometheus registry.
// Safe to call more than once; registration happens only on the first call.
func Init() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlight,
		RetriesTotal,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		CircuitBreakerRejections,
		BulkheadInFlight,
		BulkheadRejections,
		AuthFailures,
		TokenRefreshes,
	)
}

// Handler returns an http.Handler serving the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
