// Package metrics provides Prometheus metrics for the aether engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all aether metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Movement pipeline
	MovesTotal      *prometheus.CounterVec
	MoveDuration    prometheus.Histogram
	GenerationHints prometheus.Counter
	AmbiguousInputs prometheus.Counter

	// World clock
	ClockAdvancesTotal *prometheus.CounterVec
	WorldTick          prometheus.Gauge
	ClockCASRetries    prometheus.Counter

	// Event log
	EventsIngestedTotal   *prometheus.CounterVec
	EventsDispatchedTotal *prometheus.CounterVec
	EventDispatchDuration prometheus.Histogram
	DeadLettersTotal      prometheus.Counter
	PendingEvents         prometheus.Gauge

	// Description layers
	LayerCacheTotal     *prometheus.CounterVec
	IntegrityMismatches prometheus.Counter

	// Area generation
	GenerationRequestsTotal *prometheus.CounterVec
	LocationsGenerated      prometheus.Counter

	// Search
	SearchQueriesTotal  *prometheus.CounterVec
	SearchQueryDuration prometheus.Histogram

	// Storage
	StorageSizeBytes  prometheus.Gauge
	StorageOperations *prometheus.CounterVec

	// Rate limiting
	RateLimitedRequests *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "aether"
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Movement pipeline
		MovesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moves_total",
				Help:      "Total number of movement attempts by outcome",
			},
			[]string{"outcome"},
		),
		MoveDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "move_duration_seconds",
				Help:      "Movement pipeline duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),
		GenerationHints: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_hints_total",
				Help:      "Total number of debounced exit generation hints emitted",
			},
		),
		AmbiguousInputs: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ambiguous_inputs_total",
				Help:      "Total number of movement inputs needing clarification",
			},
		),

		// World clock
		ClockAdvancesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clock_advances_total",
				Help:      "Total number of world clock advances by reason",
			},
			[]string{"reason"},
		),
		WorldTick: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "world_tick",
				Help:      "Current world clock tick",
			},
		),
		ClockCASRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clock_cas_retries_total",
				Help:      "Total number of clock advances that lost a CAS race",
			},
		),

		// Event log
		EventsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of world events appended by type",
			},
			[]string{"event_type"},
		),
		EventsDispatchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Total number of dispatched events by result",
			},
			[]string{"result"},
		),
		EventDispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_dispatch_duration_seconds",
				Help:      "Event handler duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		DeadLettersTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Total number of events abandoned to the dead letter store",
			},
		),
		PendingEvents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_events",
				Help:      "Current number of pending world events",
			},
		),

		// Description layers
		LayerCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "layer_cache_total",
				Help:      "Layer resolution cache lookups by result",
			},
			[]string{"result"},
		),
		IntegrityMismatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "layer_integrity_mismatches_total",
				Help:      "Total number of layer content hash mismatches found",
			},
		),

		// Area generation
		GenerationRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of area generation requests by result",
			},
			[]string{"result"},
		),
		LocationsGenerated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "locations_generated_total",
				Help:      "Total number of locations created by generation workers",
			},
		),

		// Search
		SearchQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_queries_total",
				Help:      "Total number of admin search queries by kind",
			},
			[]string{"kind", "status"},
		),
		SearchQueryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_query_duration_seconds",
				Help:      "Search query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
		),

		// Storage
		StorageSizeBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "storage_size_bytes",
				Help:      "Total storage size in bytes",
			},
		),
		StorageOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		// Rate limiting
		RateLimitedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"client_ip"},
		),
	}

	return m
}

// Default returns the default metrics instance.
var defaultMetrics *Metrics

// Default returns the default metrics instance, creating it if needed.
func Default() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = New("aether")
	}
	return defaultMetrics
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordMove records one movement attempt.
func (m *Metrics) RecordMove(outcome string, duration float64) {
	m.MovesTotal.WithLabelValues(outcome).Inc()
	m.MoveDuration.Observe(duration)
}

// RecordClockAdvance records a successful world clock advance.
func (m *Metrics) RecordClockAdvance(reason string, tick int64) {
	m.ClockAdvancesTotal.WithLabelValues(reason).Inc()
	m.WorldTick.Set(float64(tick))
}

// RecordEventIngested records one appended world event.
func (m *Metrics) RecordEventIngested(eventType string) {
	m.EventsIngestedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDispatched records one handler run.
func (m *Metrics) RecordEventDispatched(result string, duration float64) {
	m.EventsDispatchedTotal.WithLabelValues(result).Inc()
	m.EventDispatchDuration.Observe(duration)
}

// RecordLayerCache records a layer cache lookup.
func (m *Metrics) RecordLayerCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.LayerCacheTotal.WithLabelValues(result).Inc()
}

// RecordGenerationRequest records an area generation request.
func (m *Metrics) RecordGenerationRequest(result string) {
	m.GenerationRequestsTotal.WithLabelValues(result).Inc()
}

// RecordSearchQuery records one admin search query.
func (m *Metrics) RecordSearchQuery(kind string, success bool, duration float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.SearchQueriesTotal.WithLabelValues(kind, status).Inc()
	m.SearchQueryDuration.Observe(duration)
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StorageOperations.WithLabelValues(operation, status).Inc()
}

// RecordRateLimited records a rate limited request.
func (m *Metrics) RecordRateLimited(clientIP string) {
	m.RateLimitedRequests.WithLabelValues(clientIP).Inc()
}

// SetStorageSizeBytes sets the storage size in bytes.
func (m *Metrics) SetStorageSizeBytes(size int64) {
	m.StorageSizeBytes.Set(float64(size))
}

// SetPendingEvents sets the pending event gauge.
func (m *Metrics) SetPendingEvents(count int64) {
	m.PendingEvents.Set(float64(count))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
