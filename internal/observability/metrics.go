package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_chat_active_sessions",
		Help: "Number of connected voice chat sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_chat_sessions_total",
		Help: "Total number of voice chat sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_chat_session_duration_seconds",
		Help:    "Duration of voice chat sessions in seconds",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600},
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_turns_total",
		Help: "Total number of conversation turns appended",
	}, []string{"role"})

	// Recognition metrics
	recognitionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_recognition_results_total",
		Help: "Recognition result batches by outcome",
	}, []string{"outcome"}) // accepted, dropped_in_flight, ignored, stale

	// Completion metrics
	completionStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_completion_streams_total",
		Help: "Total number of completion streams",
	}, []string{"purpose", "status"})

	completionFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_chat_completion_first_token_seconds",
		Help:    "Time from opening a completion stream to its first token",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	completionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_chat_completion_duration_seconds",
		Help:    "Duration of completion streams in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Synthesis metrics
	utterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_chat_utterances_total",
		Help: "Total number of utterances handed to speech synthesis",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_chat_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_audio_bytes_total",
		Help: "Total audio bytes forwarded to server-side recognition",
	}, []string{"engine"})
)

// Recognition outcomes
const (
	RecognitionAccepted        = "accepted"
	RecognitionDroppedInFlight = "dropped_in_flight"
	RecognitionIgnored         = "ignored"
	RecognitionStale           = "stale"
)

// Completion purposes
const (
	PurposeReply       = "reply"
	PurposeTranslation = "translation"
	PurposeProxy       = "proxy"
)

// Metrics tracks metrics for a single voice chat session
type Metrics struct {
	sessionID   string
	startTime   time.Time
	streamStart time.Time
	gotToken    bool
	mu          sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn counts an appended turn
func (m *Metrics) RecordTurn(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// RecordRecognition counts a recognition batch by outcome
func (m *Metrics) RecordRecognition(outcome string) {
	recognitionResults.WithLabelValues(outcome).Inc()
}

// RecordReplyStart records the opening of the reply stream
func (m *Metrics) RecordReplyStart() {
	m.mu.Lock()
	m.streamStart = time.Now()
	m.gotToken = false
	m.mu.Unlock()
}

// RecordReplyToken records the arrival of a reply token; only the first one is timed.
func (m *Metrics) RecordReplyToken() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gotToken || m.streamStart.IsZero() {
		return
	}
	m.gotToken = true
	completionFirstToken.Observe(time.Since(m.streamStart).Seconds())
}

// RecordReplyEnd records the end of the reply stream
func (m *Metrics) RecordReplyEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.streamStart.IsZero() {
		completionDuration.Observe(time.Since(m.streamStart).Seconds())
	}
	RecordCompletion(PurposeReply, success)
}

// RecordTranslation counts a finished translation request
func (m *Metrics) RecordTranslation(success bool) {
	RecordCompletion(PurposeTranslation, success)
}

// RecordUtterance counts an utterance handed to synthesis
func (m *Metrics) RecordUtterance() {
	utterancesTotal.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordCompletion counts a finished completion stream
func RecordCompletion(purpose string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	completionStreams.WithLabelValues(purpose, status).Inc()
}

// RecordError records an error outside of a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes forwarded to a recognition engine
func RecordAudioBytes(engine string, bytes int64) {
	audioBytesProcessed.WithLabelValues(engine).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
