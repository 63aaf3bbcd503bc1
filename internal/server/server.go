// Package server provides the HTTP viewer for the mudra pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/presenter"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// ShutdownTimeout bounds graceful shutdown in Run.
const ShutdownTimeout = 5 * time.Second

// Controller is the part of the pipeline the viewer can see and steer.
type Controller interface {
	State() pipeline.State
	Stats() pipeline.Stats
	Paused() bool
	SetPaused(paused bool)
}

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Store      *store.Store
	Presenter  *presenter.Presenter
	Controller Controller
	Logger     logrus.FieldLogger
}

// Server represents the HTTP server for the viewer.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger

	// viewers counts open overlay and results streams.
	viewers sync.WaitGroup
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    logging.OrDiscard(config.Logger).WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Presenter != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.Handle("/api/overlay", s.track(NewStreamHandler(s.config.Presenter)))
		s.mux.Handle("/api/results", s.track(NewResultsHandler(s.config.Presenter, s.log)))
	}

	if s.config.Controller != nil {
		s.mux.HandleFunc("/api/pause", s.handlePause)
	}

	if s.config.Store != nil {
		sessions := api.NewSessionsHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	})
}

type statusResponse struct {
	State      string                 `json:"state,omitempty"`
	Text       string                 `json:"text"`
	Prediction *classifier.Prediction `json:"prediction,omitempty"`
	HasHand    bool                   `json:"has_hand"`
	Paused     bool                   `json:"paused"`
	Stats      *pipeline.Stats        `json:"stats,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.config.Presenter.Result()
	resp := statusResponse{
		Text:       result.Text(),
		Prediction: result.Prediction,
		UpdatedAt:  result.UpdatedAt,
	}
	if img, ok := s.config.Presenter.Overlay(); ok {
		resp.HasHand = img.HasHand
	}
	if c := s.config.Controller; c != nil {
		stats := c.Stats()
		resp.State = c.State().String()
		resp.Paused = c.Paused()
		resp.Stats = &stats
	}

	writeJSON(w, resp)
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

// handlePause handles POST /api/pause with {"paused": bool}.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Paused == nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.config.Controller.SetPaused(*req.Paused)
	writeJSON(w, map[string]bool{"paused": s.config.Controller.Paused()})
}

// track counts h's in-flight requests so Serve can wait for them.
func (s *Server) track(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.viewers.Add(1)
		defer s.viewers.Done()
		h.ServeHTTP(w, r)
	})
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Open overlay and results streams are ended first, so shutdown
// does not wait on viewers. Serve returns once every stream handler is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base, endStreams := context.WithCancel(context.Background())
	defer endStreams()

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("viewer listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Request contexts derive from base; hijacked websockets are not
	// tracked by Shutdown and only stop here.
	endStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.viewers.Wait()
	if err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
