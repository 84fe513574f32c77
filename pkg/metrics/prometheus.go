// Package metrics provides Prometheus metrics for the versus rating service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the versus service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ledger business metrics
	gamesApplied   prometheus.Counter
	gamesUndone    prometheus.Counter
	gamesDuplicate prometheus.Counter
	playersTotal   prometheus.Gauge
	ledgerRecords  prometheus.Gauge

	// Transaction metrics
	transactionFailures *prometheus.CounterVec
	compensations       *prometheus.CounterVec
	transactionLatency  *prometheus.HistogramVec
	lockWait            prometheus.Histogram
	lockTimeouts        prometheus.Counter
	casRetries          prometheus.Counter

	// Repository metrics
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Snapshot pipeline metrics
	snapshotQueueSize       prometheus.Gauge
	snapshotQueueCapacity   prometheus.Gauge
	snapshotEnqueued        prometheus.Counter
	snapshotSyncFallbacks   prometheus.Counter
	snapshotWritten         prometheus.Counter
	snapshotErrors          prometheus.Counter
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "versus",
		subsystem:        "ratings",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, labelNames)
	}
	histogramVec := func(name, help string, labelNames ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: m.histogramBuckets, ConstLabels: labels,
		}, labelNames)
	}

	m.gamesApplied = counter("games_applied_total", "Total number of games recorded")
	m.gamesUndone = counter("games_undone_total", "Total number of games undone")
	m.gamesDuplicate = counter("games_duplicate_total", "Total number of retried game reports answered from the idempotency cache")
	m.playersTotal = gauge("players_total", "Number of registered players")
	m.ledgerRecords = gauge("ledger_records_total", "Number of ledger records, active and undone")

	m.transactionFailures = counterVec("transaction_failures_total", "Failed rating transactions by operation and stage", "op", "stage")
	m.compensations = counterVec("compensations_total", "Compensating rollbacks by operation and result", "op", "result")
	m.transactionLatency = histogramVec("transaction_latency_milliseconds", "Rating transaction latency in milliseconds", "op")
	m.lockWait = histogram("lock_wait_milliseconds", "Time spent waiting for player locks in milliseconds", m.histogramBuckets)
	m.lockTimeouts = counter("lock_timeouts_total", "Player lock acquisitions that timed out")
	m.casRetries = counter("cas_retries_total", "Rating compare-and-swap retries")

	m.repositoryUpdateLatency = histogram("repository_update_latency_milliseconds", "Repository write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = histogram("repository_query_latency_milliseconds", "Repository read latency in milliseconds", m.histogramBuckets)

	m.snapshotQueueSize = gauge("snapshot_queue_size", "Rating snapshots waiting to be written")
	m.snapshotQueueCapacity = gauge("snapshot_queue_capacity", "Capacity of the rating snapshot queue")
	m.snapshotEnqueued = counter("snapshot_enqueued_total", "Rating snapshots handed to the queue")
	m.snapshotSyncFallbacks = counter("snapshot_sync_fallbacks_total", "Rating snapshots written synchronously because the queue was unavailable")
	m.snapshotWritten = counter("snapshot_written_total", "Rating snapshots persisted by workers")
	m.snapshotErrors = counter("snapshot_errors_total", "Rating snapshots that failed to persist")
	m.workerCount = gauge("worker_count", "Number of snapshot workers")
	m.workerProcessingLatency = histogram("worker_processing_latency_milliseconds", "Snapshot worker processing latency in milliseconds", m.histogramBuckets)

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ledger Metrics Functions.

// RecordGameApplied increments the applied games counter.
func RecordGameApplied() {
	globalManager.gamesApplied.Inc()
}

// RecordGameUndone increments the undone games counter.
func RecordGameUndone() {
	globalManager.gamesUndone.Inc()
}

// RecordGameDuplicate increments the duplicate report counter.
func RecordGameDuplicate() {
	globalManager.gamesDuplicate.Inc()
}

// UpdatePlayersTotal sets the registered players gauge.
func UpdatePlayersTotal(count int) {
	globalManager.playersTotal.Set(float64(count))
}

// UpdateLedgerRecordsTotal sets the ledger size gauge.
func UpdateLedgerRecordsTotal(count int) {
	globalManager.ledgerRecords.Set(float64(count))
}

// Transaction Metrics Functions.

// RecordTransactionFailure counts a failed transaction at the given stage.
func RecordTransactionFailure(op, stage string) {
	globalManager.transactionFailures.WithLabelValues(op, stage).Inc()
}

// RecordCompensation counts a compensating rollback; result is "ok" or "failed".
func RecordCompensation(op, result string) {
	globalManager.compensations.WithLabelValues(op, result).Inc()
}

// RecordTransactionLatency records end-to-end transaction latency.
func RecordTransactionLatency(op string, latencyMs float64) {
	globalManager.transactionLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordLockWait records time spent acquiring player locks.
func RecordLockWait(waitMs float64) {
	globalManager.lockWait.Observe(waitMs)
}

// RecordLockTimeout increments the lock timeout counter.
func RecordLockTimeout() {
	globalManager.lockTimeouts.Inc()
}

// RecordCASRetry increments the compare-and-swap retry counter.
func RecordCASRetry() {
	globalManager.casRetries.Inc()
}

// Repository Metrics Functions.

// RecordRepositoryUpdateLatency records repository write latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Snapshot Pipeline Metrics Functions.

// UpdateSnapshotQueueSize sets the number of pending snapshots.
func UpdateSnapshotQueueSize(size int) {
	globalManager.snapshotQueueSize.Set(float64(size))
}

// UpdateSnapshotQueueCapacity sets the snapshot queue capacity.
func UpdateSnapshotQueueCapacity(capacity int) {
	globalManager.snapshotQueueCapacity.Set(float64(capacity))
}

// RecordSnapshotEnqueued increments the enqueued snapshots counter.
func RecordSnapshotEnqueued() {
	globalManager.snapshotEnqueued.Inc()
}

// RecordSnapshotSyncFallback increments the synchronous fallback counter.
func RecordSnapshotSyncFallback() {
	globalManager.snapshotSyncFallbacks.Inc()
}

// RecordSnapshotWritten increments the persisted snapshots counter.
func RecordSnapshotWritten() {
	globalManager.snapshotWritten.Inc()
}

// RecordSnapshotError increments the snapshot failure counter.
func RecordSnapshotError() {
	globalManager.snapshotErrors.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
