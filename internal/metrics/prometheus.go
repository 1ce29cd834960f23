package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreated   prometheus.Counter
	SessionsFinalized prometheus.Counter

	// Chunk metrics
	ChunksApplied prometheus.Counter
	ChunkSize     prometheus.Histogram
	ChunkPhrases  prometheus.Histogram

	// Concurrency and dependency failure metrics
	LeaseContention    prometheus.Counter
	SequenceConflicts  prometheus.Counter
	StoreUnavailable   prometheus.Counter
	RecognizerFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_finalized_total",
			Help: "Total number of streaming sessions finalized",
		}),

		// Chunk metrics
		ChunksApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_chunks_applied_total",
			Help: "Total number of audio chunks applied to sessions",
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_chunk_size_bytes",
			Help:    "Size of uploaded audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		ChunkPhrases: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_chunk_phrases",
			Help:    "Number of phrases finalized per chunk",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 to 10
		}),

		// Concurrency and dependency failure metrics
		LeaseContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_lease_contention_total",
			Help: "Total number of requests rejected because the session was busy",
		}),
		SequenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sequence_conflicts_total",
			Help: "Total number of chunk results discarded due to session conflicts",
		}),
		StoreUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_store_unavailable_total",
			Help: "Total number of requests failed because the session store was unreachable",
		}),
		RecognizerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_recognizer_failures_total",
			Help: "Total number of recognition engine failures",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionFinalized increments the sessions finalized counter
func (m *Metrics) RecordSessionFinalized() {
	m.SessionsFinalized.Inc()
}

// RecordChunkApplied records a successfully applied audio chunk
func (m *Metrics) RecordChunkApplied(sizeBytes, phraseCount int) {
	m.ChunksApplied.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
	m.ChunkPhrases.Observe(float64(phraseCount))
}

// RecordLeaseContention increments the lease contention counter
func (m *Metrics) RecordLeaseContention() {
	m.LeaseContention.Inc()
}

// RecordSequenceConflict increments the sequence conflicts counter
func (m *Metrics) RecordSequenceConflict() {
	m.SequenceConflicts.Inc()
}

// RecordStoreUnavailable increments the store unavailable counter
func (m *Metrics) RecordStoreUnavailable() {
	m.StoreUnavailable.Inc()
}

// RecordRecognizerFailure increments the recognizer failures counter
func (m *Metrics) RecordRecognizerFailure() {
	m.RecognizerFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
