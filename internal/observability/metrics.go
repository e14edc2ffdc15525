package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

var (
	// Compose metrics
	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_composer_active_requests",
		Help: "Number of compose requests in flight",
	})

	composeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_requests_total",
		Help: "Total number of compose requests",
	}, []string{"status"})

	composeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_composer_request_duration_seconds",
		Help:    "End-to-end compose latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	chunkOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_chunks_total",
		Help: "Chunk outcomes by final state",
	}, []string{"outcome"})

	warningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_warnings_total",
		Help: "Diagnostics attached to compose results",
	}, []string{"code"})

	// Backend metrics
	backendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_backend_attempts_total",
		Help: "Synthesis attempts per backend",
	}, []string{"backend", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_composer_backend_latency_seconds",
		Help:    "Synthesis attempt latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	}, []string{"backend"})

	failoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_failovers_total",
		Help: "Jobs that left a backend for the next candidate",
	}, []string{"backend"})

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_segment_cache_lookups_total",
		Help: "Segment cache lookups",
	}, []string{"result"}) // result: "hit" or "miss"

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_composer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_circuit_breaker_failures_total",
		Help: "Total failures recorded against backend breakers",
	}, []string{"backend"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_composer_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (from backends) or "out" (assembled)
)

// Metrics tracks metrics for a single compose request
type Metrics struct {
	requestID string
	startTime time.Time
	mu        sync.Mutex
	ended     bool
}

// NewRequestMetrics creates a new metrics tracker for a request
func NewRequestMetrics(requestID string) *Metrics {
	return &Metrics{
		requestID: requestID,
		startTime: time.Now(),
	}
}

// RecordStart records the start of a request
func (m *Metrics) RecordStart() {
	activeRequests.Inc()
}

// RecordEnd records the end of a request; later calls are ignored
func (m *Metrics) RecordEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeRequests.Dec()
	composeDuration.Observe(time.Since(m.startTime).Seconds())
	composeRequests.WithLabelValues(status).Inc()
}

// RecordChunk records the final state of one chunk
func (m *Metrics) RecordChunk(outcome string) {
	chunkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordWarning records one diagnostic by code
func (m *Metrics) RecordWarning(code string) {
	warningsTotal.WithLabelValues(code).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBackendAudio records audio bytes received from a backend
func RecordBackendAudio(bytes int) {
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordAttempt records one synthesis attempt against a backend
func RecordAttempt(backend, status string, latency time.Duration) {
	backendAttempts.WithLabelValues(backend, status).Inc()
	backendLatency.WithLabelValues(backend).Observe(latency.Seconds())
}

// RecordFailover records a job leaving a backend
func RecordFailover(backend string) {
	failoversTotal.WithLabelValues(backend).Inc()
}

// RecordCacheLookup records a segment cache hit or miss
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(backend string, state int) {
	circuitBreakerState.WithLabelValues(backend).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(backend string) {
	circuitBreakerFailures.WithLabelValues(backend).Inc()
}

// BreakerStateHook returns a state change hook that exports breaker
// transitions as metrics and logs
func BreakerStateHook() resilience.StateChangeFunc {
	return func(name string, from, to resilience.CircuitState) {
		UpdateCircuitBreakerState(name, int(to))

		logger := GetLogger()
		event := logger.Info()
		if to == resilience.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("backend", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}
}
