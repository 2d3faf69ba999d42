package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	// SessionsActive tracks the number of live editing sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live editing sessions",
		},
	)

	// HandlesLive tracks the number of live ephemeral resource handles
	HandlesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resource_handles_live",
			Help: "Number of live ephemeral resource handles across all sessions",
		},
	)

	// StaleResultsDroppedTotal counts async completions discarded because
	// their generation was superseded
	StaleResultsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_results_dropped_total",
			Help: "Async completions discarded due to a superseded generation",
		},
		[]string{"operation"},
	)
)

// Segmentation metrics
var (
	// SegmentationAttemptsTotal counts individual segmentation transport
	// attempts by outcome
	SegmentationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentation_attempts_total",
			Help: "Segmentation transport attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SegmentationDurationSeconds tracks end-to-end removal latency
	SegmentationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_duration_seconds",
			Help:    "End-to-end background removal duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SegmentationRetriesTotal counts retry waits taken between attempts
	SegmentationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segmentation_retries_total",
			Help: "Retry waits taken between segmentation attempts",
		},
	)
)

// Export metrics
var (
	// ExportsTotal counts surface exports by format and outcome
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Surface exports by format and outcome",
		},
		[]string{"format", "outcome"},
	)
)

// Redis metrics
var (
	// WarmupStoreErrorsTotal counts non-fatal warmed-flag store failures
	WarmupStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_store_errors_total",
			Help: "Non-fatal warmed-flag store failures by operation",
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)

// Event stream metrics
var (
	// EventStreamClients tracks connected websocket clients
	EventStreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_stream_clients",
			Help: "Connected session event stream clients",
		},
	)
)
