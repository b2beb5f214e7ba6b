// Package metrics provides Prometheus metrics for the Encore
// recommendation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingest pipeline
	eventsAccepted prometheus.Counter
	eventsRejected prometheus.Counter
	updatesApplied prometheus.Counter
	updateLatency  prometheus.Histogram

	// Serving
	recommendationsServed *prometheus.CounterVec
	recommendLatency      prometheus.Histogram
	similarQueries        prometheus.Counter
	scoringErrors         prometheus.Counter

	// Training
	trainingRuns     *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	bestValLoss      prometheus.Gauge
	lastTrainingUnix prometheus.Gauge

	// Store gauges
	totalUsers        prometheus.Gauge
	totalItems        prometheus.Gauge
	totalInteractions prometheus.Gauge

	// Queue / workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueues     prometheus.Counter
	queueDequeues     prometheus.Counter
	queueEnqueueFails prometheus.Counter
	workerCount       prometheus.Gauge
	workerErrors      prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "encore",
		subsystem:        "recommender",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsAccepted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "events_accepted_total",
		Help: "Interaction events accepted into the ingest pipeline",
	})
	m.eventsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "events_rejected_total",
		Help: "Interaction events rejected at the pipeline boundary",
	})
	m.updatesApplied = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "incremental_updates_applied_total",
		Help: "Incremental model updates applied",
	})
	m.updateLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "incremental_update_latency_milliseconds",
		Help:    "Latency of one interaction upsert plus gradient step",
		Buckets: m.histogramBuckets,
	})

	m.recommendationsServed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "recommendations_served_total",
		Help: "Recommendation responses served, by path",
	}, []string{"path"})
	m.recommendLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "recommendation_latency_milliseconds",
		Help:    "End-to-end recommendation latency",
		Buckets: m.histogramBuckets,
	})
	m.similarQueries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "similar_item_queries_total",
		Help: "Content-similarity queries served",
	})
	m.scoringErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "scoring_errors_total",
		Help: "Per-item scoring failures skipped during ranking",
	})

	m.trainingRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "training_runs_total",
		Help: "Full training runs, by outcome",
	}, []string{"outcome"})
	m.trainingDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "training_duration_seconds",
		Help:    "Wall time of full training runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})
	m.bestValLoss = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "training_best_validation_loss",
		Help: "Best validation loss of the last completed training run",
	})
	m.lastTrainingUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "last_training_timestamp_seconds",
		Help: "Unix time of the last successful training run",
	})

	m.totalUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "users_total",
		Help: "Users known to the entity index",
	})
	m.totalItems = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "items_total",
		Help: "Items known to the entity index",
	})
	m.totalInteractions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "interactions_total",
		Help: "Rows in the interaction store",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_queue_size",
		Help: "Updates currently queued for ingestion",
	})
	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_queue_capacity",
		Help: "Capacity of one ingest shard queue",
	})
	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_enqueues_total",
		Help: "Updates enqueued for ingestion",
	})
	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_dequeues_total",
		Help: "Updates dequeued by ingest workers",
	})
	m.queueEnqueueFails = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_enqueue_failures_total",
		Help: "Updates dropped because a shard queue was full or closed",
	})
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_workers",
		Help: "Ingest worker shards",
	})
	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ingest_worker_errors_total",
		Help: "Updates that failed to apply",
	})
}

// RecordEventAccepted increments the accepted-events counter.
func RecordEventAccepted() { globalManager.eventsAccepted.Inc() }

// RecordEventRejected increments the rejected-events counter.
func RecordEventRejected() { globalManager.eventsRejected.Inc() }

// RecordUpdateApplied increments the applied-updates counter.
func RecordUpdateApplied() { globalManager.updatesApplied.Inc() }

// RecordUpdateLatency records one incremental update's latency.
func RecordUpdateLatency(latencyMs float64) { globalManager.updateLatency.Observe(latencyMs) }

// RecordRecommendationServed counts a served response; path is either
// "hybrid" or "cold_start".
func RecordRecommendationServed(path string) {
	globalManager.recommendationsServed.WithLabelValues(path).Inc()
}

// RecordRecommendLatency records end-to-end recommendation latency.
func RecordRecommendLatency(latencyMs float64) { globalManager.recommendLatency.Observe(latencyMs) }

// RecordSimilarQuery counts a content-similarity query.
func RecordSimilarQuery() { globalManager.similarQueries.Inc() }

// RecordScoringError counts a skipped per-item scoring failure.
func RecordScoringError() { globalManager.scoringErrors.Inc() }

// RecordTrainingRun counts a training run with its outcome:
// "completed", "early_stopped", "failed" or "skipped".
func RecordTrainingRun(outcome string) { globalManager.trainingRuns.WithLabelValues(outcome).Inc() }

// RecordTrainingDuration records the wall time of a training run.
func RecordTrainingDuration(seconds float64) { globalManager.trainingDuration.Observe(seconds) }

// SetBestValidationLoss publishes the last run's best validation loss.
func SetBestValidationLoss(loss float64) { globalManager.bestValLoss.Set(loss) }

// SetLastTrainingUnix publishes the last successful training time.
func SetLastTrainingUnix(ts float64) { globalManager.lastTrainingUnix.Set(ts) }

// UpdateStoreSizes publishes the index and store gauges.
func UpdateStoreSizes(users, items, interactions int) {
	globalManager.totalUsers.Set(float64(users))
	globalManager.totalItems.Set(float64(items))
	globalManager.totalInteractions.Set(float64(interactions))
}

// UpdateQueueSize sets the ingest queue size gauge.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the shard queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts one successful enqueue.
func RecordQueueEnqueue() { globalManager.queueEnqueues.Inc() }

// RecordQueueDequeue counts one dequeue.
func RecordQueueDequeue() { globalManager.queueDequeues.Inc() }

// RecordQueueEnqueueError counts one dropped enqueue.
func RecordQueueEnqueueError() { globalManager.queueEnqueueFails.Inc() }

// UpdateWorkerCount sets the worker shard gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerError counts one failed update application.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// GetRegistry returns the custom Prometheus registry used by the
// engine's metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
