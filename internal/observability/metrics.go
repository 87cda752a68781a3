package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translate_gateway_active_connections",
		Help: "Number of active websocket connections",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_connections_total",
		Help: "Total number of connections handled",
	})

	// Room metrics
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translate_gateway_active_rooms",
		Help: "Number of live rooms",
	})

	roomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_rooms_created_total",
		Help: "Total number of rooms created",
	})

	roomsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_rooms_deleted_total",
		Help: "Total number of rooms deleted",
	}, []string{"reason"}) // reason: "explicit" or "idle"

	// Translation metrics
	translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_translations_total",
		Help: "Total translations served by result source",
	}, []string{"source"}) // source: "cache", "fuzzy", "engine", "degraded"

	partialEmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_partial_emissions_total",
		Help: "Total partial translation events emitted",
	})

	engineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "translate_gateway_engine_latency_seconds",
		Help:    "External inference engine call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_cache_lookups_total",
		Help: "Translation cache lookups by outcome",
	}, []string{"outcome"}) // outcome: "hit", "fuzzy_hit", "miss"

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_cache_evictions_total",
		Help: "Translation cache LRU evictions",
	})

	// Admission metrics
	throttledChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_throttled_chunks_total",
		Help: "Chunks rejected by the rate limiter",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translate_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// RecordConnectionOpen records a new websocket connection
func RecordConnectionOpen() {
	activeConnections.Inc()
	totalConnections.Inc()
}

// RecordConnectionClose records a closed websocket connection
func RecordConnectionClose() {
	activeConnections.Dec()
}

// RecordRoomCreated records a new room
func RecordRoomCreated() {
	activeRooms.Inc()
	roomsCreated.Inc()
}

// RecordRoomDeleted records a torn-down room
func RecordRoomDeleted(reason string) {
	activeRooms.Dec()
	roomsDeleted.WithLabelValues(reason).Inc()
}

// RecordTranslation records a completed translation and where it came from
func RecordTranslation(source string) {
	translations.WithLabelValues(source).Inc()
}

// RecordPartialEmission records one PARTIAL event sent to listeners
func RecordPartialEmission() {
	partialEmissions.Inc()
}

// RecordEngineLatency records the duration of one engine call
func RecordEngineLatency(d time.Duration) {
	engineLatency.Observe(d.Seconds())
}

// RecordCacheLookup records a cache lookup outcome
func RecordCacheLookup(outcome string) {
	cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordCacheEviction records an LRU eviction
func RecordCacheEviction() {
	cacheEvictions.Inc()
}

// RecordThrottled records a rate-limited chunk
func RecordThrottled() {
	throttledChunks.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
