package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/masasibata/t-one-rest-api/internal/config"
	"github.com/masasibata/t-one-rest-api/internal/metrics"
	"github.com/masasibata/t-one-rest-api/internal/recognizer"
	"github.com/masasibata/t-one-rest-api/internal/session"
)

// testMetrics is shared by every test server: prometheus collectors register
// globally and would collide if each test created its own set.
var testMetrics = metrics.NewMetrics()

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelError,
}))

// fakeEngineMux mimics the recognition engine API. Its state payload is a
// plain chunk counter, so phrases advance deterministically across chunks.
func fakeEngineMux() http.Handler {
	writeResponse := func(w http.ResponseWriter, counter int, phrases []recognizer.Phrase) {
		if phrases == nil {
			phrases = []recognizer.Phrase{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(counter))),
			"phrases": phrases,
		})
	}

	readCounter := func(r *http.Request) int {
		raw, err := base64.StdEncoding.DecodeString(r.FormValue("state"))
		if err != nil {
			return 0
		}
		n, _ := strconv.Atoi(string(raw))
		return n
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, 0, nil)
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		counter := readCounter(r) + 1
		writeResponse(w, counter, []recognizer.Phrase{{
			Text:      fmt.Sprintf("phrase %d", counter),
			StartTime: float64(counter - 1),
			EndTime:   float64(counter),
		}})
	})
	mux.HandleFunc("/flush", func(w http.ResponseWriter, r *http.Request) {
		counter := readCounter(r)
		writeResponse(w, counter, []recognizer.Phrase{{
			Text:      "final phrase",
			StartTime: float64(counter),
			EndTime:   float64(counter) + 0.5,
		}})
	})

	return mux
}

type testServer struct {
	http  *HTTPServer
	store *session.MemoryStore
}

func newTestServer(t *testing.T, engineHandler http.Handler, apiKey string) *testServer {
	t.Helper()

	engineSrv := httptest.NewServer(engineHandler)
	t.Cleanup(engineSrv.Close)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Port:          8080,
			Address:       "127.0.0.1",
			APIKey:        apiKey,
			MaxFileSizeMB: 1,
		},
		Storage: config.StorageConfig{Backend: "memory"},
		Session: config.SessionConfig{
			IdleTimeout:   3600,
			LeaseTimeout:  30.0,
			SweepInterval: 10.0,
		},
		Recognizer: config.RecognizerConfig{
			Endpoint:      engineSrv.URL,
			Timeout:       5,
			MaxRetries:    0,
			MaxConcurrent: 4,
			Language:      "ru",
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"},
	}

	store := session.NewMemoryStore(testLogger, session.MemoryStoreConfig{
		IdleTimeout:   time.Hour,
		SweepInterval: time.Hour,
	})
	t.Cleanup(func() { store.Close() })

	engineClient, err := recognizer.NewClient(recognizer.Config{
		Endpoint:      cfg.Recognizer.Endpoint,
		Timeout:       cfg.Recognizer.GetTimeoutDuration(),
		MaxRetries:    cfg.Recognizer.MaxRetries,
		MaxConcurrent: cfg.Recognizer.MaxConcurrent,
		Language:      cfg.Recognizer.Language,
	})
	if err != nil {
		t.Fatalf("Failed to create engine client: %v", err)
	}
	t.Cleanup(func() { engineClient.Close() })

	manager := session.NewManager(store, engineClient, testLogger, session.ManagerConfig{
		LeaseTimeout: cfg.Session.GetLeaseTimeoutDuration(),
	})

	return &testServer{
		http:  NewHTTPServer(cfg, testLogger, manager, engineClient, testMetrics),
		store: store,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.http.server.Handler.ServeHTTP(rec, req)
	return rec
}

// multipartBody builds an upload form. A nil audio slice omits the file part.
func multipartBody(t *testing.T, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if audio != nil {
		fw, err := w.CreateFormFile("file", "audio.wav")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := fw.Write(audio); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write form field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close form writer: %v", err)
	}

	return &buf, w.FormDataContentType()
}

func postMultipart(t *testing.T, ts *testServer, path string, audio []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, audio, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return ts.do(req)
}

func errorDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body["detail"]
}

func TestStreamingLifecycle(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Create returned %d: %s", rec.Code, rec.Body.String())
	}
	var created StreamingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}
	if created.StateID == "" {
		t.Fatal("Expected non-empty state_id")
	}
	if created.IsFinal {
		t.Error("Expected is_final false on create")
	}

	for i := 1; i <= 2; i++ {
		rec = postMultipart(t, ts, "/transcribe/streaming/chunk", []byte("audio"),
			map[string]string{"state_id": created.StateID})
		if rec.Code != http.StatusOK {
			t.Fatalf("Chunk %d returned %d: %s", i, rec.Code, rec.Body.String())
		}
		var chunk StreamingResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &chunk); err != nil {
			t.Fatalf("Failed to decode chunk response: %v", err)
		}
		if len(chunk.Phrases) != 1 || chunk.Phrases[0].Text != fmt.Sprintf("phrase %d", i) {
			t.Errorf("Unexpected phrases from chunk %d: %+v", i, chunk.Phrases)
		}
		if chunk.IsFinal {
			t.Errorf("Expected is_final false on chunk %d", i)
		}
	}

	rec = postMultipart(t, ts, "/transcribe/streaming/finalize", nil,
		map[string]string{"state_id": created.StateID})
	if rec.Code != http.StatusOK {
		t.Fatalf("Finalize returned %d: %s", rec.Code, rec.Body.String())
	}
	var final StreamingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
		t.Fatalf("Failed to decode finalize response: %v", err)
	}
	if !final.IsFinal {
		t.Error("Expected is_final true on finalize")
	}
	if len(final.Phrases) != 3 {
		t.Fatalf("Expected 3 phrases in final transcript, got %d: %+v", len(final.Phrases), final.Phrases)
	}
	if final.Phrases[2].Text != "final phrase" {
		t.Errorf("Expected flush phrase last, got %q", final.Phrases[2].Text)
	}

	rec = postMultipart(t, ts, "/transcribe/streaming/chunk", []byte("audio"),
		map[string]string{"state_id": created.StateID})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for finalized session, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "Session not found" {
		t.Errorf("Unexpected error detail: %q", detail)
	}
}

func TestChunkValidation(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")

	tests := []struct {
		name       string
		audio      []byte
		fields     map[string]string
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing state_id",
			audio:      []byte("audio"),
			fields:     nil,
			wantStatus: http.StatusBadRequest,
			wantDetail: "state_id is required",
		},
		{
			name:       "missing file",
			audio:      nil,
			fields:     map[string]string{"state_id": "some-session"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Audio file is required",
		},
		{
			name:       "empty file",
			audio:      []byte{},
			fields:     map[string]string{"state_id": "some-session"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Audio file is empty",
		},
		{
			name:       "unknown session",
			audio:      []byte("audio"),
			fields:     map[string]string{"state_id": "no-such-session"},
			wantStatus: http.StatusNotFound,
			wantDetail: "Session not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMultipart(t, ts, "/transcribe/streaming/chunk", tt.audio, tt.fields)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if detail := errorDetail(t, rec); detail != tt.wantDetail {
				t.Errorf("Expected detail %q, got %q", tt.wantDetail, detail)
			}
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transcribe/streaming/chunk",
			strings.NewReader("plain body"))
		rec := ts.do(req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for non-multipart body, got %d", rec.Code)
		}
	})

	t.Run("finalize without state_id", func(t *testing.T) {
		rec := postMultipart(t, ts, "/transcribe/streaming/finalize", nil, map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
		if detail := errorDetail(t, rec); detail != "state_id is required" {
			t.Errorf("Unexpected detail: %q", detail)
		}
	})
}

func TestChunkBusySession(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")
	ctx := context.Background()

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil))
	var created StreamingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}

	lease, err := ts.store.AcquireLease(ctx, created.StateID, time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}

	rec = postMultipart(t, ts, "/transcribe/streaming/chunk", []byte("audio"),
		map[string]string{"state_id": created.StateID})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 while lease is held, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := errorDetail(t, rec); detail != "Session is busy with another request" {
		t.Errorf("Unexpected detail: %q", detail)
	}

	if err := ts.store.ReleaseLease(ctx, created.StateID, lease); err != nil {
		t.Fatalf("ReleaseLease failed: %v", err)
	}

	rec = postMultipart(t, ts, "/transcribe/streaming/chunk", []byte("audio"),
		map[string]string{"state_id": created.StateID})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after release, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "secret")

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil)
	req.Header.Set("X-API-Key", "wrong")
	if rec := ts.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid key, got %d", rec.Code)
	}

	// Monitoring endpoints stay open.
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for /health without key, got %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "secret")

	// Preflight is answered before the method and API key checks, since
	// browsers send it without the custom headers.
	req := httptest.NewRequest(http.MethodOptions, "/transcribe/streaming", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := ts.do(req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected allow-origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-API-Key") {
		t.Errorf("Expected X-API-Key in allowed headers, got %q", got)
	}

	// Plain responses carry the origin header too.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected allow-origin * on plain requests, got %q", got)
	}
}

func TestTranscribeWholeFile(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")

	rec := postMultipart(t, ts, "/transcribe", []byte("whole-file"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Transcribe returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp TranscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.FullText != "phrase 1 final phrase" {
		t.Errorf("Unexpected full_text: %q", resp.FullText)
	}
	if resp.Duration != 1.5 {
		t.Errorf("Expected duration 1.5, got %f", resp.Duration)
	}
	if resp.Phrases == nil || len(*resp.Phrases) != 2 {
		t.Errorf("Expected 2 phrases, got %+v", resp.Phrases)
	}
	if resp.ProcessingTime < 0 {
		t.Errorf("Expected non-negative processing time, got %f", resp.ProcessingTime)
	}

	// Timestamps can be switched off.
	rec = postMultipart(t, ts, "/transcribe", []byte("whole-file"),
		map[string]string{"return_timestamps": "false"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Transcribe returned %d: %s", rec.Code, rec.Body.String())
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := raw["phrases"]; ok {
		t.Error("Expected phrases to be omitted when return_timestamps is false")
	}
	if raw["full_text"] != "phrase 1 final phrase" {
		t.Errorf("Unexpected full_text: %v", raw["full_text"])
	}

	rec = postMultipart(t, ts, "/transcribe", []byte("whole-file"),
		map[string]string{"return_timestamps": "maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad return_timestamps, got %d", rec.Code)
	}
}

// TestTranscribeEmptyRecognition: when the engine recognizes nothing, the
// phrases key still serializes as an empty array instead of disappearing.
func TestTranscribeEmptyRecognition(t *testing.T) {
	silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   base64.StdEncoding.EncodeToString([]byte("0")),
			"phrases": []recognizer.Phrase{},
		})
	})
	ts := newTestServer(t, silent, "")

	rec := postMultipart(t, ts, "/transcribe", []byte("silence"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Transcribe returned %d: %s", rec.Code, rec.Body.String())
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	phrases, ok := raw["phrases"].([]interface{})
	if !ok {
		t.Fatalf("Expected phrases key with an array, got %v", raw)
	}
	if len(phrases) != 0 {
		t.Errorf("Expected no phrases, got %v", phrases)
	}
	if raw["full_text"] != "" {
		t.Errorf("Expected empty full_text, got %v", raw["full_text"])
	}
}

// TestTranscribeDeduplicatesFlush: the flush re-emits the last partial with
// the time span a chunk already produced; the response carries it once.
func TestTranscribeDeduplicatesFlush(t *testing.T) {
	writeResponse := func(w http.ResponseWriter, phrases []recognizer.Phrase) {
		if phrases == nil {
			phrases = []recognizer.Phrase{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   base64.StdEncoding.EncodeToString([]byte("0")),
			"phrases": phrases,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, nil)
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, []recognizer.Phrase{{Text: "phrase 1", StartTime: 0, EndTime: 1}})
	})
	mux.HandleFunc("/flush", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, []recognizer.Phrase{
			{Text: "phrase 1 again", StartTime: 0, EndTime: 1},
			{Text: "tail", StartTime: 1, EndTime: 1.5},
		})
	})
	ts := newTestServer(t, mux, "")

	rec := postMultipart(t, ts, "/transcribe", []byte("audio"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Transcribe returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp TranscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.FullText != "phrase 1 tail" {
		t.Errorf("Unexpected full_text: %q", resp.FullText)
	}
	if resp.Phrases == nil {
		t.Fatal("Expected phrases in response")
	}
	got := *resp.Phrases
	if len(got) != 2 || got[0].Text != "phrase 1" || got[1].Text != "tail" {
		t.Errorf("Unexpected phrases: %+v", got)
	}
}

func TestEngineFailureMapsToBadGateway(t *testing.T) {
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine down", http.StatusInternalServerError)
	})
	ts := newTestServer(t, failing, "")

	rec := postMultipart(t, ts, "/transcribe", []byte("audio"), nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for whole-file transcribe, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := errorDetail(t, rec); detail != "Recognition engine failure" {
		t.Errorf("Unexpected detail: %q", detail)
	}

	// Creating a session does not touch the engine, feeding a chunk does.
	createRec := ts.do(httptest.NewRequest(http.MethodPost, "/transcribe/streaming", nil))
	if createRec.Code != http.StatusOK {
		t.Fatalf("Create returned %d: %s", createRec.Code, createRec.Body.String())
	}
	var created StreamingResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}

	rec = postMultipart(t, ts, "/transcribe/streaming/chunk", []byte("audio"),
		map[string]string{"state_id": created.StateID})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for chunk, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "") // 1 MB limit

	big := bytes.Repeat([]byte("a"), 2<<20)
	rec := postMultipart(t, ts, "/transcribe", big, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := errorDetail(t, rec); detail != "Upload exceeds the 1 MB limit" {
		t.Errorf("Unexpected detail: %q", detail)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Health returned %d", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}
	components, ok := health["components"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing components in health response: %v", health)
	}
	store, ok := components["session_store"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing session_store component: %v", components)
	}
	if store["backend"] != "memory" {
		t.Errorf("Expected memory backend, got %v", store["backend"])
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Stats returned %d", rec.Code)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode stats response: %v", err)
	}
	if _, ok := stats["sessions"]; !ok {
		t.Errorf("Expected sessions section in stats: %v", stats)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Root returned %d", rec.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to decode root response: %v", err)
	}
	if doc["service"] != "T-one Speech Recognition REST API" {
		t.Errorf("Unexpected service name: %v", doc["service"])
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/no-such-path", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Metrics returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "asr_sessions_created_total") {
		t.Error("Expected prometheus metrics in /metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, fakeEngineMux(), "")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/transcribe/streaming"},
		{http.MethodGet, "/transcribe/streaming/chunk"},
		{http.MethodGet, "/transcribe/streaming/finalize"},
		{http.MethodGet, "/transcribe"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/stats"},
		{http.MethodPost, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405, got %d", rec.Code)
			}
		})
	}
}
