package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tensor"
)

type stubModel struct{}

func (stubModel) Predict(*tensor.Tensor) ([]float32, error) { return []float32{0.2, 0.8}, nil }
func (stubModel) Close() error                              { return nil }

type status struct {
	State      string                 `json:"state"`
	Text       string                 `json:"text"`
	Prediction *classifier.Prediction `json:"prediction"`
	HasHand    bool                   `json:"has_hand"`
	Paused     bool                   `json:"paused"`
}

func getStatus(t *testing.T, client *http.Client, url string) status {
	t.Helper()
	resp, err := client.Get(url + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status error = %v", err)
	}
	defer resp.Body.Close()

	var s status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})

	cfg := &config.Config{
		FrameWidth:   640,
		FrameHeight:  480,
		MaxFPS:       30,
		IdleAfter:    time.Second,
		ModelPath:    "model_web/model.onnx",
		InputSize:    64,
		TensorLayout: "NHWC",
		Addr:         "127.0.0.1:0",
		DataDir:      t.TempDir(),
		Detector:     detector.DefaultConfig(),
	}

	application, err := app.New(cfg, app.Options{
		Camera:   capture.NewMockCamera([]*gocv.Mat{&frame}, true),
		Detector: det,
		Loader: func(ctx context.Context) (pipeline.Classifier, error) {
			return classifier.New(stubModel{}, []string{"A", "B"})
		},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	ts := httptest.NewServer(application.Handler())
	client := ts.Client()

	t.Run("Prediction", func(t *testing.T) {
		waitFor(t, "prediction", func() bool {
			return getStatus(t, client, ts.URL).Text == "B — 80.0%"
		})
		s := getStatus(t, client, ts.URL)
		if s.State != "ready_hand_detected" {
			t.Errorf("state = %q, want ready_hand_detected", s.State)
		}
		if !s.HasHand {
			t.Error("has_hand = false, want true")
		}
		if s.Prediction == nil || s.Prediction.Label != "B" {
			t.Errorf("prediction = %+v, want label B", s.Prediction)
		}
	})

	t.Run("Results", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/results"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial results: %v", err)
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg server.ResultMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read result: %v", err)
		}
		if msg.Text != "B — 80.0%" {
			t.Errorf("text = %q, want %q", msg.Text, "B — 80.0%")
		}
	})

	t.Run("Pause", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/api/pause", "application/json", strings.NewReader(`{"paused": true}`))
		if err != nil {
			t.Fatalf("pause error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if !getStatus(t, client, ts.URL).Paused {
			t.Error("paused = false after pause")
		}

		// Let an arrival queued before the pause drain.
		time.Sleep(100 * time.Millisecond)
		before := application.Pipeline().Stats().Frames
		time.Sleep(200 * time.Millisecond)
		if after := application.Pipeline().Stats().Frames; after != before {
			t.Errorf("frames advanced while paused: %d -> %d", before, after)
		}

		resp, err = client.Post(ts.URL+"/api/pause", "application/json", strings.NewReader(`{"paused": false}`))
		if err != nil {
			t.Fatalf("resume error = %v", err)
		}
		resp.Body.Close()
		waitFor(t, "frames after resume", func() bool {
			return application.Pipeline().Stats().Frames > before
		})
	})

	t.Run("RunningSession", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions")
		if err != nil {
			t.Fatalf("GET /api/sessions error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Sessions []store.Session `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
			t.Fatalf("decode sessions: %v", err)
		}
		if len(listed.Sessions) != 1 {
			t.Fatalf("sessions = %d, want 1", len(listed.Sessions))
		}
		if listed.Sessions[0].EndedAt != nil {
			t.Error("running session already has ended_at")
		}
	})

	ts.Close()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !det.Closed() {
		t.Error("detector not closed after Run")
	}

	s, err := store.New(cfg.DBPath())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	sess, err := s.Sessions().GetByID(application.Session().ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.EndedAt == nil {
		t.Error("finished session has no ended_at")
	}
	if sess.Predictions == 0 {
		t.Error("finished session recorded no predictions")
	}
}
