package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/masasibata/t-one-rest-api/internal/config"
	"github.com/masasibata/t-one-rest-api/internal/metrics"
	"github.com/masasibata/t-one-rest-api/internal/recognizer"
	"github.com/masasibata/t-one-rest-api/internal/session"
)

// multipartMemoryLimit caps how much of a parsed form is held in memory
// before spilling to disk.
const multipartMemoryLimit = 10 << 20

// HTTPServer provides the transcription REST API plus monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	manager *session.Manager
	engine  *recognizer.Client
	metrics *metrics.Metrics

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *session.Manager,
	engine *recognizer.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		engine:    engine,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler: h.withCORS(mux),
		// Uploads can be large and engine calls are retried
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Streaming transcription endpoints
	mux.HandleFunc("/transcribe/streaming", h.withMetrics("/transcribe/streaming", h.requireAPIKey(h.handleStreamingCreate)))
	mux.HandleFunc("/transcribe/streaming/chunk", h.withMetrics("/transcribe/streaming/chunk", h.requireAPIKey(h.handleStreamingChunk)))
	mux.HandleFunc("/transcribe/streaming/finalize", h.withMetrics("/transcribe/streaming/finalize", h.requireAPIKey(h.handleStreamingFinalize)))

	// Whole-file transcription endpoint
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.requireAPIKey(h.handleTranscribe)))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withCORS lets browser clients on any origin call the API. Preflight
// requests are answered here, before the method-checked handlers and the
// API key check would reject them.
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// requireAPIKey rejects requests without the configured X-API-Key header.
// Authentication is disabled when no key is configured.
func (h *HTTPServer) requireAPIKey(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.config.HTTP.APIKey != "" && r.Header.Get("X-API-Key") != h.config.HTTP.APIKey {
			h.writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		handler(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// StreamingResponse is the body returned by the streaming endpoints
type StreamingResponse struct {
	Phrases []recognizer.Phrase `json:"phrases"`
	StateID string              `json:"state_id"`
	IsFinal bool                `json:"is_final"`
}

// TranscriptionResponse is the body returned by the whole-file endpoint.
// Phrases is a pointer so that switching timestamps off drops the key
// entirely while an empty recognition result still serializes as [].
type TranscriptionResponse struct {
	Phrases        *[]recognizer.Phrase `json:"phrases,omitempty"`
	FullText       string               `json:"full_text"`
	Duration       float64              `json:"duration"`
	ProcessingTime float64              `json:"processing_time"`
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError sends the error body shared by all endpoints
func (h *HTTPServer) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, map[string]string{"detail": detail})
}

// writeSessionError maps session and engine errors onto API status codes
func (h *HTTPServer) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var recErr *session.RecognizerError

	status := http.StatusInternalServerError
	detail := "Internal server error"

	switch {
	case errors.Is(err, session.ErrNotFound):
		status, detail = http.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrBusy):
		h.metrics.RecordLeaseContention()
		status, detail = http.StatusConflict, "Session is busy with another request"
	case errors.Is(err, session.ErrConflict):
		h.metrics.RecordSequenceConflict()
		status, detail = http.StatusInternalServerError, "Session state conflict"
	case errors.Is(err, session.ErrUnavailable):
		h.metrics.RecordStoreUnavailable()
		status, detail = http.StatusServiceUnavailable, "Session store unavailable"
	case errors.As(err, &recErr):
		h.metrics.RecordRecognizerFailure()
		status, detail = http.StatusBadGateway, "Recognition engine failure"
	}

	if status >= 500 {
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	h.writeError(w, status, detail)
}

// readUpload extracts the uploaded audio file from a multipart form,
// enforcing the configured size limit.
func (h *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxFileSizeBytes())

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds the %d MB limit", h.config.HTTP.MaxFileSizeMB))
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return nil, false
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Audio file is required")
		return nil, false
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return nil, false
	}

	if len(audio) == 0 {
		h.writeError(w, http.StatusBadRequest, "Audio file is empty")
		return nil, false
	}

	return audio, true
}

// readChunkUpload reads the audio file plus the state_id form field
func (h *HTTPServer) readChunkUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	audio, ok := h.readUpload(w, r)
	if !ok {
		return nil, "", false
	}

	stateID := r.FormValue("state_id")
	if stateID == "" {
		h.writeError(w, http.StatusBadRequest, "state_id is required")
		return nil, "", false
	}

	return audio, stateID, true
}

// handleStreamingCreate implements POST /transcribe/streaming
func (h *HTTPServer) handleStreamingCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := h.manager.Create(r.Context())
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	h.metrics.RecordSessionCreated()

	h.writeJSON(w, http.StatusOK, StreamingResponse{
		Phrases: []recognizer.Phrase{},
		StateID: id,
		IsFinal: false,
	})
}

// handleStreamingChunk implements POST /transcribe/streaming/chunk
func (h *HTTPServer) handleStreamingChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	audio, stateID, ok := h.readChunkUpload(w, r)
	if !ok {
		return
	}

	phrases, err := h.manager.Chunk(r.Context(), stateID, audio)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	h.metrics.RecordChunkApplied(len(audio), len(phrases))

	if phrases == nil {
		phrases = []recognizer.Phrase{}
	}

	h.writeJSON(w, http.StatusOK, StreamingResponse{
		Phrases: phrases,
		StateID: stateID,
		IsFinal: false,
	})
}

// handleStreamingFinalize implements POST /transcribe/streaming/finalize
func (h *HTTPServer) handleStreamingFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stateID := r.FormValue("state_id")
	if stateID == "" {
		h.writeError(w, http.StatusBadRequest, "state_id is required")
		return
	}

	phrases, err := h.manager.Finalize(r.Context(), stateID)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	h.metrics.RecordSessionFinalized()

	if phrases == nil {
		phrases = []recognizer.Phrase{}
	}

	h.writeJSON(w, http.StatusOK, StreamingResponse{
		Phrases: phrases,
		StateID: stateID,
		IsFinal: true,
	})
}

// handleTranscribe implements POST /transcribe for whole-file transcription.
// It runs the same engine pipeline as streaming, within a single request.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	startTime := time.Now()

	audio, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	returnTimestamps := true
	if v := r.FormValue("return_timestamps"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "return_timestamps must be a boolean")
			return
		}
		returnTimestamps = parsed
	}

	ctx := r.Context()

	state, err := h.engine.Init(ctx)
	if err != nil {
		h.writeSessionError(w, r, &session.RecognizerError{Err: err})
		return
	}

	state, phrases, err := h.engine.Process(ctx, state, audio)
	if err != nil {
		h.writeSessionError(w, r, &session.RecognizerError{Err: err})
		return
	}

	final, err := h.engine.Flush(ctx, state)
	if err != nil {
		h.writeSessionError(w, r, &session.RecognizerError{Err: err})
		return
	}
	// The flush re-emits the refined final partial; drop spans already
	// recognized, as streaming finalize does.
	phrases = recognizer.MergePhrases(phrases, final)

	response := TranscriptionResponse{
		FullText:       fullText(phrases),
		Duration:       audioDuration(phrases),
		ProcessingTime: time.Since(startTime).Seconds(),
	}
	if returnTimestamps {
		if phrases == nil {
			phrases = []recognizer.Phrase{}
		}
		response.Phrases = &phrases
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	uptime := time.Since(h.startTime)
	engineStats := h.engine.GetStats()

	status := "healthy"
	storageStatus := "running"

	activeSessions, err := h.manager.ActiveSessions(r.Context())
	if err != nil {
		status = "degraded"
		storageStatus = "unavailable"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "t-one-rest-api",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_store": map[string]interface{}{
				"status":          storageStatus,
				"backend":         h.config.Storage.Backend,
				"active_sessions": activeSessions,
			},
			"recognizer": map[string]interface{}{
				"status":          "running",
				"total_requests":  engineStats.TotalRequests,
				"success_rate":    engineStats.SuccessRate,
				"active_requests": engineStats.ActiveRequests,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	engineStats := h.engine.GetStats()
	uptime := time.Since(h.startTime)

	activeSessions, _ := h.manager.ActiveSessions(r.Context())

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": activeSessions,
			"backend":      h.config.Storage.Backend,
		},
		"recognizer": engineStats,
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "T-one Speech Recognition REST API",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /transcribe":                    "Transcribe a complete audio file",
			"POST /transcribe/streaming":          "Create a streaming session",
			"POST /transcribe/streaming/chunk":    "Feed an audio chunk to a session",
			"POST /transcribe/streaming/finalize": "Flush remaining audio and close a session",
			"GET /":                               "API documentation",
			"GET /health":                         "Service health check",
			"GET /stats":                          "Get service statistics",
			"GET /metrics":                        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// fullText joins phrase texts into a single transcript string
func fullText(phrases []recognizer.Phrase) string {
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// audioDuration reports the end time of the last phrase in seconds
func audioDuration(phrases []recognizer.Phrase) float64 {
	var maxEnd float64
	for _, p := range phrases {
		if p.EndTime > maxEnd {
			maxEnd = p.EndTime
		}
	}
	return maxEnd
}
