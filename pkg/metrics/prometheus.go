// Package metrics provides Prometheus metrics for the voxmeter services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "voxmeter"

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace       string
	subsystem       string
	latencyBuckets  []float64
	durationBuckets []float64
	registry        prometheus.Registerer

	// Metering
	admissionDecisions  *prometheus.CounterVec
	usageRecordedSecs   *prometheus.CounterVec
	usageEvents         *prometheus.CounterVec
	duplicateOperations prometheus.Counter
	truncations         *prometheus.CounterVec
	probeFailures       prometheus.Counter
	requestedDuration   prometheus.Histogram

	// Identity
	identityResolutions *prometheus.CounterVec

	// Recording
	recordingsActive prometheus.Gauge
	recordingStops   *prometheus.CounterVec

	// Reconciliation
	reconcileOutcomes *prometheus.CounterVec
	reconcileLatency  prometheus.Histogram
	reconcileDrift    prometheus.Histogram
	authorityMatches  *prometheus.CounterVec

	// Sync queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDropped       *prometheus.CounterVec
	workerCount        prometheus.Gauge
	workerJobLatency   prometheus.Histogram
	workerErrors       prometheus.Counter
	storeWriteLatency  prometheus.Histogram
	storeQueryLatency  prometheus.Histogram
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
	errorsByComponent  *prometheus.CounterVec
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
		namespace:       defaultNamespace,
		latencyBuckets:  []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		durationBuckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		registry:        prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.admissionDecisions = m.counterVec("admission_decisions_total",
		"Admission decisions by identity class and reason", "class", "reason")
	m.usageRecordedSecs = m.counterVec("usage_recorded_seconds_total",
		"Audio seconds recorded as consumed", "class")
	m.usageEvents = m.counterVec("usage_events_total",
		"Usage events appended to the ledger", "class")
	m.duplicateOperations = m.counter("duplicate_operations_total",
		"Usage recordings suppressed by the operation guard")
	m.truncations = m.counterVec("truncations_total",
		"Payload truncations by precision", "precision")
	m.probeFailures = m.counter("duration_probe_failures_total",
		"Audio duration probes that failed")
	m.requestedDuration = m.histogram("requested_duration_seconds",
		"Requested audio duration at admission", m.durationBuckets)

	m.identityResolutions = m.counterVec("identity_resolutions_total",
		"Identity resolutions by fingerprint method", "method")

	m.recordingsActive = m.gauge("recordings_active", "Live recordings being monitored")
	m.recordingStops = m.counterVec("recording_stops_total",
		"Live recordings stopped, by cause", "cause")

	m.reconcileOutcomes = m.counterVec("reconcile_outcomes_total",
		"Reconciliation attempts by outcome", "outcome")
	m.reconcileLatency = m.histogram("reconcile_latency_milliseconds",
		"Reconciliation round trip latency", m.latencyBuckets)
	m.reconcileDrift = m.histogram("reconcile_drift_seconds",
		"Absolute difference between local and authoritative consumption", m.durationBuckets)
	m.authorityMatches = m.counterVec("authority_matches_total",
		"Authority identity matches by strategy and risk", "strategy", "risk")

	m.queueSize = m.gauge("sync_queue_size", "Pending reconciliation jobs")
	m.queueCapacity = m.gauge("sync_queue_capacity", "Reconciliation queue capacity")
	m.queueEnqueued = m.counter("sync_queue_enqueued_total", "Reconciliation jobs enqueued")
	m.queueDropped = m.counterVec("sync_queue_dropped_total",
		"Reconciliation jobs dropped", "reason")
	m.workerCount = m.gauge("sync_worker_count", "Reconciliation workers running")
	m.workerJobLatency = m.histogram("sync_job_latency_milliseconds",
		"Reconciliation job processing latency", m.latencyBuckets)
	m.workerErrors = m.counter("sync_worker_errors_total", "Reconciliation job failures")

	m.storeWriteLatency = m.histogram("store_write_latency_milliseconds",
		"Ledger store append latency", m.latencyBuckets)
	m.storeQueryLatency = m.histogram("store_query_latency_milliseconds",
		"Ledger store read latency", m.latencyBuckets)

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
}

// RecordAdmission counts an admission decision.
func RecordAdmission(class, reason string) {
	globalManager.admissionDecisions.WithLabelValues(class, reason).Inc()
}

// RecordUsage counts a usage event and its seconds.
func RecordUsage(class string, seconds float64) {
	globalManager.usageEvents.WithLabelValues(class).Inc()
	globalManager.usageRecordedSecs.WithLabelValues(class).Add(seconds)
}

// RecordDuplicateOperation counts a suppressed double submit.
func RecordDuplicateOperation() {
	globalManager.duplicateOperations.Inc()
}

// RecordTruncation counts a truncation; precise is false for byte-proportional cuts.
func RecordTruncation(precise bool) {
	label := "imprecise"
	if precise {
		label = "precise"
	}
	globalManager.truncations.WithLabelValues(label).Inc()
}

// RecordProbeFailure counts a failed duration probe.
func RecordProbeFailure() {
	globalManager.probeFailures.Inc()
}

// ObserveRequestedDuration records the requested audio duration in seconds.
func ObserveRequestedDuration(seconds float64) {
	globalManager.requestedDuration.Observe(seconds)
}

// RecordIdentityResolution counts a resolution by fingerprint method.
func RecordIdentityResolution(method string) {
	globalManager.identityResolutions.WithLabelValues(method).Inc()
}

// UpdateRecordingsActive sets the number of monitored live recordings.
func UpdateRecordingsActive(n int) {
	globalManager.recordingsActive.Set(float64(n))
}

// RecordRecordingStop counts a stopped recording by cause.
func RecordRecordingStop(cause string) {
	globalManager.recordingStops.WithLabelValues(cause).Inc()
}

// RecordReconcile counts a reconciliation attempt and its latency.
func RecordReconcile(outcome string, latencyMs float64) {
	globalManager.reconcileOutcomes.WithLabelValues(outcome).Inc()
	globalManager.reconcileLatency.Observe(latencyMs)
}

// ObserveReconcileDrift records |local - authoritative| in seconds.
func ObserveReconcileDrift(seconds float64) {
	globalManager.reconcileDrift.Observe(seconds)
}

// RecordAuthorityMatch counts an authority-side identity match.
func RecordAuthorityMatch(strategy, risk string) {
	globalManager.authorityMatches.WithLabelValues(strategy, risk).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDrop counts a job that could not be enqueued.
func RecordQueueDrop(reason string) {
	globalManager.queueDropped.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerJobLatency records job processing latency.
func RecordWorkerJobLatency(latencyMs float64) {
	globalManager.workerJobLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordStoreWriteLatency records an append latency.
func RecordStoreWriteLatency(latencyMs float64) {
	globalManager.storeWriteLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records a read latency.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestLatency.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
