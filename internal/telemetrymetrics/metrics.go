// Package telemetrymetrics holds the Prometheus instrumentation for the
// ingestion channel, its store, and its transport.
package telemetrymetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Channel metrics

	// ChannelEnabledState tracks the channel's enable/suspend state.
	// 0 = suspended-discard, 1 = suspended-retain, 2 = enabled
	ChannelEnabledState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "channel",
			Name:      "enabled_state",
			Help:      "Channel state (0=suspended-discard, 1=suspended-retain, 2=enabled)",
		},
	)

	// ChannelLogsEnqueued tracks logs accepted or rejected at enqueue.
	ChannelLogsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "channel",
			Name:      "logs_enqueued_total",
			Help:      "Total logs submitted to enqueue, by outcome",
		},
		[]string{"group", "outcome"}, // outcome: persisted, discarded, dropped_unknown_group, dropped_device_info
	)

	// Group metrics

	// GroupPendingCount tracks pending (unclaimed) rows per group.
	GroupPendingCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "group",
			Name:      "pending_count",
			Help:      "Logs persisted but not yet claimed by an in-flight batch",
		},
		[]string{"group"},
	)

	// GroupInFlightBatches tracks in-flight batch count per group.
	GroupInFlightBatches = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "group",
			Name:      "in_flight_batches",
			Help:      "Number of batches currently in flight",
		},
		[]string{"group"},
	)

	// GroupBatchesSent tracks completed batch outcomes.
	GroupBatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "group",
			Name:      "batches_sent_total",
			Help:      "Total batches resolved, by outcome",
		},
		[]string{"group", "outcome"}, // outcome: success, recoverable_failure, fatal_failure
	)

	// Store metrics

	// StoreOperationDuration tracks Log Store operation latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telemetry",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Log store operation duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"}, // put, count, get_logs, delete, delete_all, clear_pending_state
	)

	// StoreQueueDepth tracks the async store facade's pending task backlog.
	StoreQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "store",
			Name:      "worker_queue_depth",
			Help:      "Tasks queued on the async store facade's worker",
		},
	)

	// Transport metrics

	// TransportRequests tracks ingestion HTTP calls by outcome.
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Total ingestion requests, by result classification",
		},
		[]string{"result"}, // success, recoverable, fatal
	)

	// TransportRequestDuration tracks ingestion HTTP call latency.
	TransportRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "telemetry",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Ingestion HTTP request duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
	)

	// TransportRetries tracks retry attempts issued by the retryer decorator.
	TransportRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "telemetry",
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Total retry attempts for recoverable ingestion failures",
		},
	)

	// TransportCircuitBreakerState mirrors the sony/gobreaker state.
	// 0 = closed, 1 = open, 2 = half-open
	TransportCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "transport",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// TransportDeferredByOffline tracks calls deferred by the network gate.
	TransportDeferredByOffline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemetry",
			Subsystem: "transport",
			Name:      "deferred_calls",
			Help:      "Ingestion calls currently deferred awaiting connectivity",
		},
	)
)

// CircuitBreakerState constants for TransportCircuitBreakerState. The
// numbering is this package's own and differs from gobreaker.State, which
// orders closed, half-open, open.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)

// ChannelState constants for ChannelEnabledState.
const (
	ChannelSuspendedDiscard = 0
	ChannelSuspendedRetain  = 1
	ChannelEnabled          = 2
)
