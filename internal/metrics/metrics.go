// Package metrics holds the Prometheus collectors shared by the client sync
// engine and the server. Collectors register with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Retry
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_retry_attempts_total",
			Help: "Attempts made by the retry manager, by operation and outcome",
		},
		[]string{"operation", "outcome"}, // "success", "retry", "terminal", "exhausted"
	)

	// Transfers
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_transfer_bytes_total",
			Help: "Bytes moved to or from the blob store",
		},
		[]string{"direction"}, // "upload", "download"
	)

	TransfersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsync_transfers_in_flight",
			Help: "Attachment transfers currently running",
		},
	)

	IntegrityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_integrity_failures_total",
			Help: "Downloads rejected by checksum, size or readability checks",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Sync
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_sync_passes_total",
			Help: "Completed sync passes by result",
		},
		[]string{"result"},
	)

	DocumentsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_documents_pushed_total",
			Help: "Document push outcomes",
		},
		[]string{"outcome"}, // "synced", "conflict", "error"
	)

	DocumentsPulled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_documents_pulled_total",
			Help: "Remote documents applied locally",
		},
	)

	ConflictsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_conflicts_detected_total",
			Help: "Conflicts recorded for user resolution",
		},
	)

	OfflineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsync_offline_queue_depth",
			Help: "Triggers waiting for connectivity",
		},
	)

	// Server
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_rpc_requests_total",
			Help: "gRPC requests served, by method and status code",
		},
		[]string{"method", "code"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_rpc_duration_seconds",
			Help:    "gRPC handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ChangeEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsync_change_events_published_total",
			Help: "Document change notifications published to subscribers",
		},
	)
)
