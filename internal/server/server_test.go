package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/presenter"
)

type fakeController struct {
	mu     sync.Mutex
	state  pipeline.State
	stats  pipeline.Stats
	paused bool
}

func (f *fakeController) State() pipeline.State { return f.state }
func (f *fakeController) Stats() pipeline.Stats { return f.stats }

func (f *fakeController) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeController) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/status", "/api/sessions", "/api/pause"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_Status(t *testing.T) {
	p := presenter.New()
	ctrl := &fakeController{
		state: pipeline.ReadyHandDetected,
		stats: pipeline.Stats{Frames: 42, Predictions: 40, Dropped: 3},
	}
	s := New(Config{Presenter: p, Controller: ctrl})

	p.ShowOverlay(presenter.OverlayImage{JPEG: []byte{1}, Width: 640, Height: 480, HasHand: true})
	p.ShowPrediction(classifier.Prediction{Label: "B", Confidence: 0.8})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.State != "ready_hand_detected" {
		t.Errorf("state = %q, want ready_hand_detected", resp.State)
	}
	if resp.Text != "B — 80.0%" {
		t.Errorf("text = %q, want %q", resp.Text, "B — 80.0%")
	}
	if resp.Prediction == nil || resp.Prediction.Label != "B" {
		t.Errorf("prediction = %+v, want label B", resp.Prediction)
	}
	if !resp.HasHand {
		t.Error("has_hand should be true")
	}
	if resp.Stats == nil || resp.Stats.Frames != 42 || resp.Stats.Dropped != 3 {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestServer_StatusWithoutController(t *testing.T) {
	s := New(Config{Presenter: presenter.New()})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Text != presenter.StatusLoading {
		t.Errorf("text = %q, want %q", resp.Text, presenter.StatusLoading)
	}
	if resp.State != "" || resp.Stats != nil {
		t.Errorf("controller fields should be empty, got %+v", resp)
	}
}

func TestServer_Pause(t *testing.T) {
	ctrl := &fakeController{}
	s := New(Config{Controller: ctrl})

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantPaused bool
	}{
		{name: "pause", method: http.MethodPost, body: `{"paused": true}`, wantStatus: http.StatusOK, wantPaused: true},
		{name: "resume with PUT", method: http.MethodPut, body: `{"paused": false}`, wantStatus: http.StatusOK, wantPaused: false},
		{name: "missing field", method: http.MethodPost, body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, body: `paused`, wantStatus: http.StatusBadRequest},
		{name: "GET not allowed", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/pause", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && ctrl.Paused() != tt.wantPaused {
				t.Errorf("paused = %v, want %v", ctrl.Paused(), tt.wantPaused)
			}
		})
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>mudra</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestSameBuffer(t *testing.T) {
	a := []byte{1, 2, 3}
	b := append([]byte(nil), a...)

	if !sameBuffer(a, a) {
		t.Error("a buffer should match itself")
	}
	if sameBuffer(a, b) {
		t.Error("a copy is a different buffer")
	}
	if !sameBuffer(nil, nil) {
		t.Error("two empty buffers match")
	}
	if sameBuffer(a, nil) {
		t.Error("empty and non-empty differ")
	}
}
