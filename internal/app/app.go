// Package app wires the camera, hand locator, renderer, classifier, presenter
// and viewer into one running mudra process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/presenter"
	"github.com/ayusman/mudra/internal/render"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tensor"
	"github.com/ayusman/mudra/internal/tray"
)

// Options override the collaborators New would otherwise build from config.
// Every field is optional.
type Options struct {
	Camera   capture.Camera
	Detector detector.Detector
	Loader   pipeline.Loader
	Logger   logrus.FieldLogger
}

// App owns every long-lived component of a run.
type App struct {
	config    *config.Config
	log       logrus.FieldLogger
	store     *store.Store
	presenter *presenter.Presenter
	pipeline  *pipeline.Controller
	server    *server.Server
	tray      *tray.Tray

	session   *store.Session
	closeOnce sync.Once
	closeErr  error
}

// New builds the application. Nothing is opened except the session store;
// the camera and the model are brought up by Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	log := logging.OrDiscard(opts.Logger)

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	camera := opts.Camera
	if camera == nil {
		camera = capture.NewCameraWithSize(cfg.CameraID, cfg.FrameWidth, cfg.FrameHeight)
	}

	det := opts.Detector
	if det == nil {
		det = newDetector(cfg.Detector, log)
	}

	load := opts.Loader
	if load == nil {
		load = assetLoader(cfg)
	}

	var motion *capture.MotionDetector
	if cfg.IdleFPS > 0 {
		motion = capture.NewMotionDetector(capture.DefaultMotionRatio)
	}

	p := presenter.New()
	ctrl, err := pipeline.New(pipeline.Config{
		MaxFPS:    cfg.MaxFPS,
		IdleFPS:   cfg.IdleFPS,
		IdleAfter: cfg.IdleAfter,
	}, pipeline.Deps{
		Camera:  camera,
		Locator: detector.NewLocator(det),
		Renderer: render.NewRenderer(render.Config{
			Width:     cfg.FrameWidth,
			Height:    cfg.FrameHeight,
			InputSize: cfg.InputSize,
			Layout:    tensor.Layout(cfg.TensorLayout),
			Mirror:    cfg.MirrorDisplay,
		}),
		Load:      load,
		Presenter: p,
		Motion:    motion,
		Logger:    log,
	})
	if err != nil {
		if motion != nil {
			motion.Close()
		}
		det.Close()
		st.Close()
		return nil, err
	}

	staticDir := findWebDir(cfg.StaticDir, cfg.DataDir)
	if staticDir != "" {
		log.WithField("dir", staticDir).Info("serving static files")
	}

	a := &App{
		config:    cfg,
		log:       log.WithField("component", "app"),
		store:     st,
		presenter: p,
		pipeline:  ctrl,
		server: server.New(server.Config{
			StaticDir:  staticDir,
			Store:      st,
			Presenter:  p,
			Controller: ctrl,
			Logger:     log,
		}),
	}

	if cfg.Tray {
		a.tray = tray.New()
		a.tray.OnPause(ctrl.SetPaused)
		a.tray.OnOpenViewer(func() {
			if err := openBrowser(ViewerURL(cfg.Addr)); err != nil {
				a.log.WithError(err).Warn("failed to open viewer")
			}
		})
	}

	return a, nil
}

// newDetector prefers the MediaPipe service and falls back to the mock
// detector, which never reports a hand.
func newDetector(cfg detector.Config, log logrus.FieldLogger) detector.Detector {
	mp, err := detector.NewMediaPipeDetector(cfg, log)
	if err != nil {
		log.WithError(err).Warn("MediaPipe not available, using mock detector")
		return detector.NewMockDetector()
	}
	log.Info("using MediaPipe hand detection")
	return mp
}

func assetLoader(cfg *config.Config) pipeline.Loader {
	return func(ctx context.Context) (pipeline.Classifier, error) {
		c, err := classifier.Load(ctx, classifier.Assets{
			ModelPath:       cfg.ModelPath,
			ModelConfigPath: cfg.ModelConfigPath,
			ClassNamesPath:  cfg.ClassNamesPath,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Run records a session, starts the pipeline and serves the viewer until ctx
// is cancelled or the server fails. The app is closed when Run returns.
func (a *App) Run(ctx context.Context) error {
	a.session = &store.Session{
		CameraID:  a.config.CameraID,
		ModelPath: a.config.ModelPath,
	}
	if err := a.store.Sessions().Create(a.session); err != nil {
		a.log.WithError(err).Warn("failed to record session")
		a.session = nil
	}

	if err := a.pipeline.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start pipeline: %w", err), a.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx, a.config.Addr)
	})
	if a.tray != nil {
		g.Go(func() error {
			a.tray.Watch(gctx, a.presenter)
			return nil
		})
	}

	err := g.Wait()
	return errors.Join(err, a.Close())
}

// Close stops the pipeline, finishes the session and closes the store.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
		if a.session != nil {
			s := a.pipeline.Stats()
			err := a.store.Sessions().Finish(a.session.ID, a.pipeline.State().String(), store.Counters{
				Frames:      s.Frames,
				Dropped:     s.Dropped,
				Predictions: s.Predictions,
				Errors:      s.Errors,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("finish session: %w", err))
			}
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Presenter returns the display state.
func (a *App) Presenter() *presenter.Presenter {
	return a.presenter
}

// Pipeline returns the pipeline controller.
func (a *App) Pipeline() *pipeline.Controller {
	return a.pipeline
}

// Handler returns the viewer's HTTP handler.
func (a *App) Handler() *server.Server {
	return a.server
}

// Tray returns the tray menu, or nil when the tray is disabled.
func (a *App) Tray() *tray.Tray {
	return a.tray
}

// Session returns the session recorded by Run, if any.
func (a *App) Session() *store.Session {
	return a.session
}

// ViewerURL turns a listen address into a browsable URL.
func ViewerURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir resolves the viewer's static directory. A relative dir is tried
// from the working directory and up to two parents, then under dataDir.
// An empty result disables static serving.
func findWebDir(dir, dataDir string) string {
	if dir == "" {
		return ""
	}
	if filepath.IsAbs(dir) {
		if isDir(dir) {
			return dir
		}
		return ""
	}

	candidates := []string{
		dir,
		filepath.Join("..", dir),
		filepath.Join("..", "..", dir),
	}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, dir))
	}
	for _, p := range candidates {
		if isDir(p) {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
