package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/config"
	"github.com/snarg/subcache/internal/storage"
	"github.com/snarg/subcache/internal/subtitle"
	"github.com/snarg/subcache/internal/transcribe"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

// mockService records the last request and returns canned results.
type mockService struct {
	req     TranscribeRequest
	body    string
	result  *TranscribeResult
	err     error
	records map[string]*MediaRecord
}

func (m *mockService) Transcribe(_ context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	m.req = req
	data, _ := io.ReadAll(req.File)
	m.body = string(data)
	return m.result, m.err
}

func (m *mockService) Lookup(_ context.Context, hash string) (*MediaRecord, error) {
	if rec, ok := m.records[hash]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func newTestRouter(t *testing.T, svc TranscriptionService, mutate func(*config.Config)) (http.Handler, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		UploadDir:     filepath.Join(root, "uploads"),
		TranscriptDir: filepath.Join(root, "transcripts"),
		MaxUploadMB:   1,
	}
	os.MkdirAll(cfg.UploadDir, 0o755)
	os.MkdirAll(cfg.TranscriptDir, 0o755)
	if mutate != nil {
		mutate(cfg)
	}
	return NewRouter(ServerOptions{
		Config:    cfg,
		Service:   svc,
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	}), cfg
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postTranscribe(t *testing.T, h http.Handler, fields map[string]string, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, filename, content)
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestPing(t *testing.T) {
	h, _ := newTestRouter(t, &mockService{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTranscribe_Success(t *testing.T) {
	svc := &mockService{result: &TranscribeResult{
		VideoFilename: testHash + ".mp4",
		VideoURL:      "/uploads/" + testHash + ".mp4",
		Hash:          testHash,
		Segments:      []subtitle.Segment{{Start: 0, End: 1, Text: "hi"}},
		SRT:           testHash + ".srt",
		VTT:           testHash + ".vtt",
		VTTURL:        "/static/" + testHash + ".vtt",
	}}
	h, _ := newTestRouter(t, svc, nil)

	rec := postTranscribe(t, h, map[string]string{
		"language":   "en",
		"model_size": "large-v3",
		"file_id":    "client-42",
	}, "clip.mp4", "video bytes")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if svc.req.Filename != "clip.mp4" || svc.body != "video bytes" {
		t.Errorf("service got filename=%q body=%q", svc.req.Filename, svc.body)
	}
	if svc.req.Language != "en" || svc.req.ModelSize != "large-v3" || svc.req.FileID != "client-42" {
		t.Errorf("service request = %+v", svc.req)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"videoFilename", "videoUrl", "hash", "segments", "srt", "vtt", "vttUrl", "cache"} {
		if _, ok := body[k]; !ok {
			t.Errorf("response missing %q: %s", k, rec.Body.String())
		}
	}
	if body["cache"] != false {
		t.Errorf("cache = %v", body["cache"])
	}
}

func TestTranscribe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"no_segments", transcribe.ErrNoSegments, http.StatusBadRequest, "Transcription produced no segments"},
		{"engine_error", &transcribe.EngineError{Engine: "whisper", Model: "small", Err: errors.New("CUDA out of memory")}, http.StatusInternalServerError, "CUDA out of memory"},
		{"wrapped_engine_error", fmt.Errorf("job: %w", &transcribe.EngineError{Engine: "openai", Err: errors.New("rate limited")}), http.StatusInternalServerError, "rate limited"},
		{"queue_full", transcribe.ErrQueueFull, http.StatusServiceUnavailable, ""},
		{"pool_stopped", transcribe.ErrPoolStopped, http.StatusServiceUnavailable, ""},
		{"lock_wait_cancelled", fmt.Errorf("lock x: %w", context.Canceled), http.StatusServiceUnavailable, ""},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, &mockService{err: tt.err}, nil)
			rec := postTranscribe(t, h, nil, "a.mp4", "x")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeError(t, rec)
			if body.Error == "" {
				t.Error("error message empty")
			}
			if tt.wantDetail != "" && body.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", body.Detail, tt.wantDetail)
			}
		})
	}
}

func TestTranscribe_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t, &mockService{result: &TranscribeResult{}}, nil)

	t.Run("missing_file", func(t *testing.T) {
		rec := postTranscribe(t, h, map[string]string{"language": "en"}, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("not_multipart", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/transcribe", strings.NewReader(`{"file":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	for _, size := range []string{"../etc", "tiny model", strings.Repeat("x", 65), "-small"} {
		t.Run("model_size_"+size[:min(len(size), 8)], func(t *testing.T) {
			rec := postTranscribe(t, h, map[string]string{"model_size": size}, "a.mp4", "x")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("model_size %q: status = %d", size, rec.Code)
			}
			if body := decodeError(t, rec); !strings.Contains(body.Detail, "model_size") {
				t.Errorf("detail = %q, want it to name the field", body.Detail)
			}
		})
	}

	t.Run("bad_language", func(t *testing.T) {
		rec := postTranscribe(t, h, map[string]string{"language": "en/../x"}, "a.mp4", "x")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestTranscribe_TooLarge(t *testing.T) {
	h, _ := newTestRouter(t, &mockService{result: &TranscribeResult{}}, nil)
	rec := postTranscribe(t, h, nil, "big.mp4", strings.Repeat("a", 2<<20))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestTranscribe_Auth(t *testing.T) {
	svc := &mockService{result: &TranscribeResult{}}
	h, _ := newTestRouter(t, svc, func(c *config.Config) { c.AuthToken = "s3cret" })

	rec := postTranscribe(t, h, nil, "a.mp4", "x")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d", rec.Code)
	}

	body, ct := multipartBody(t, nil, "a.mp4", "x")
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d", rec.Code)
	}

	// Reads stay public
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ping behind auth: status = %d", rec.Code)
	}
}

func TestGetMedia(t *testing.T) {
	vtt := "/static/" + testHash + ".vtt"
	svc := &mockService{records: map[string]*MediaRecord{
		testHash: {
			VideoURL: "/uploads/" + testHash + ".mp4",
			VTTURL:   &vtt,
			SRT:      testHash + ".srt",
			Segments: []subtitle.Segment{{Start: 0, End: 2, Text: "hello"}},
		},
	}}
	h, _ := newTestRouter(t, svc, nil)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/media/"+testHash, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["vttUrl"] != vtt || body["srt"] != testHash+".srt" {
			t.Errorf("body = %v", body)
		}
		for _, k := range []string{"lang", "modelSize"} {
			if v, ok := body[k]; !ok || v != nil {
				t.Errorf("%s = %v, want null", k, v)
			}
		}
	})

	t.Run("not_found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/media/"+strings.Repeat("0", 64), nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decodeError(t, rec); body.Detail != "Not found" {
			t.Errorf("detail = %q", body.Detail)
		}
	})
}

func TestStaticDir(t *testing.T) {
	h, cfg := newTestRouter(t, &mockService{}, nil)
	os.WriteFile(filepath.Join(cfg.TranscriptDir, testHash+".vtt"), []byte("WEBVTT\n\n"), 0o644)
	os.WriteFile(filepath.Join(cfg.TranscriptDir, ".tmp-123"), []byte("partial"), 0o644)
	os.WriteFile(filepath.Join(cfg.UploadDir, testHash+".mp4"), []byte("video"), 0o644)
	os.Mkdir(filepath.Join(cfg.UploadDir, "sub"), 0o755)

	tests := []struct {
		path       string
		wantStatus int
		wantType   string
	}{
		{"/static/" + testHash + ".vtt", http.StatusOK, "text/vtt; charset=utf-8"},
		{"/uploads/" + testHash + ".mp4", http.StatusOK, "video/mp4"},
		{"/static/.tmp-123", http.StatusNotFound, ""},
		{"/static/", http.StatusNotFound, ""},
		{"/uploads/sub", http.StatusNotFound, ""},
		{"/uploads/missing.mp4", http.StatusNotFound, ""},
		{"/static/..%2fuploads%2f" + testHash + ".mp4", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantType != "" && rec.Header().Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.wantType)
			}
		})
	}
}

type fakeStorage struct{ err error }

func (f fakeStorage) CheckWritable() error { return f.err }

type fakeBroker bool

func (f fakeBroker) IsConnected() bool { return bool(f) }

type fakeQueue transcribe.QueueStats

func (f fakeQueue) Stats() transcribe.QueueStats { return transcribe.QueueStats(f) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		src        HealthSources
		wantStatus string
		wantCode   int
	}{
		{"nothing_configured", HealthSources{}, "healthy", http.StatusOK},
		{"storage_ok", HealthSources{Storage: fakeStorage{}}, "healthy", http.StatusOK},
		{"storage_broken", HealthSources{Storage: fakeStorage{err: errors.New("ro fs")}}, "unhealthy", http.StatusServiceUnavailable},
		{"mqtt_down", HealthSources{Storage: fakeStorage{}, MQTT: fakeBroker(false)}, "degraded", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.src, "v1", time.Now())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "v1" {
				t.Errorf("version = %q", resp.Version)
			}
		})
	}

	t.Run("queue_stats", func(t *testing.T) {
		h := NewHealthHandler(HealthSources{Queue: fakeQueue{Pending: 3, Active: 1}}, "v1", time.Now())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		var resp HealthResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Queue == nil || resp.Queue.Pending != 3 || resp.Queue.Active != 1 {
			t.Errorf("queue = %+v", resp.Queue)
		}
		if resp.Checks["mqtt"] != "not_configured" || resp.Checks["s3"] != "not_configured" {
			t.Errorf("checks = %v", resp.Checks)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, &mockService{}, nil)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ping", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subcache_http_requests_total") {
		t.Error("http request counter not exported")
	}
}
