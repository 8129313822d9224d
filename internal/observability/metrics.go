// Package observability exposes the Prometheus metrics for the sync service.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Sync metrics
	TableSyncs    *prometheus.CounterVec
	RowsUpserted  *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	SyncDuration  *prometheus.HistogramVec

	// Checkpoint metrics
	CheckpointsClaimed   prometheus.Counter
	CheckpointsResumed   prometheus.Counter
	CheckpointsCompleted prometheus.Counter
	Continuations        prometheus.Counter

	// Orchestration metrics
	OrchestrationRuns   prometheus.Counter
	OrchestrationActive prometheus.Gauge

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	tableSyncs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_syncs_total",
			Help:      "Total number of per-table sync attempts by terminal status",
		},
		[]string{"table", "status"},
	)

	rowsUpserted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_upserted_total",
			Help:      "Total number of rows upserted into target tables",
		},
		[]string{"table"},
	)

	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a single extract-transform-upsert batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_sync_duration_seconds",
			Help:      "Duration of a full per-table sync",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"table"},
	)

	checkpointsClaimed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_claimed_total",
			Help:      "Total number of checkpoints claimed",
		},
	)

	checkpointsResumed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_resumed_total",
			Help:      "Total number of syncs resumed from an active checkpoint",
		},
	)

	checkpointsCompleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_completed_total",
			Help:      "Total number of checkpoints completed",
		},
	)

	continuations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continuations_total",
			Help:      "Total number of time-budget continuations enqueued",
		},
	)

	orchestrationRuns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_runs_total",
			Help:      "Total number of orchestration runs",
		},
	)

	orchestrationActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestration_active",
			Help:      "Whether an orchestration run is currently in flight",
		},
	)

	webhookDeliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook delivery attempts by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		tableSyncs,
		rowsUpserted,
		batchDuration,
		syncDuration,
		checkpointsClaimed,
		checkpointsResumed,
		checkpointsCompleted,
		continuations,
		orchestrationRuns,
		orchestrationActive,
		webhookDeliveries,
	)

	globalCollector = &Collector{
		registry:             registry,
		TableSyncs:           tableSyncs,
		RowsUpserted:         rowsUpserted,
		BatchDuration:        batchDuration,
		SyncDuration:         syncDuration,
		CheckpointsClaimed:   checkpointsClaimed,
		CheckpointsResumed:   checkpointsResumed,
		CheckpointsCompleted: checkpointsCompleted,
		Continuations:        continuations,
		OrchestrationRuns:    orchestrationRuns,
		OrchestrationActive:  orchestrationActive,
		WebhookDeliveries:    webhookDeliveries,
	}

	return globalCollector
}

// ResetForTesting resets the global collector for testing purposes
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
