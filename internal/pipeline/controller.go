// Package pipeline drives frames through hand location, rendering and
// classification, and owns the lifecycle state that gates each stage.
//
// Frame arrivals go through a capacity-1 channel consumed by a single worker.
// An arrival that finds the worker busy, or the channel already full, is
// dropped, so at most one classification is ever in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/presenter"
	"github.com/ayusman/mudra/internal/render"
	"github.com/ayusman/mudra/internal/tensor"
)

// Frame pacing defaults.
const (
	DefaultMaxFPS         = 30
	DefaultIdleAfter      = 2 * time.Second
	DefaultReopenInterval = time.Second
)

var (
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrStopped        = errors.New("pipeline stopped")
)

// Classifier maps a tensor to a prediction.
type Classifier interface {
	Classify(ctx context.Context, t *tensor.Tensor) (classifier.Prediction, error)
	NumClasses() int
	Close() error
}

// Loader produces the classifier. It runs once, in the background, from Start.
type Loader func(ctx context.Context) (Classifier, error)

// Locator finds at most one hand in a frame. A nil hand with a nil error is a miss.
type Locator interface {
	Locate(frame *gocv.Mat) (*detector.HandLandmarks, error)
	Close() error
}

// Preprocessor turns a frame and an optional hand into an overlay and a tensor.
type Preprocessor interface {
	Render(frame *gocv.Mat, hand *detector.HandLandmarks) (*render.Overlay, error)
	ToTensor(o *render.Overlay) (*tensor.Tensor, error)
}

// Presenter receives everything the viewer sees.
type Presenter interface {
	ShowOverlay(img presenter.OverlayImage)
	ShowPrediction(p classifier.Prediction)
	ShowStatus(msg string)
	Seal()
}

// Config controls frame pacing.
type Config struct {
	// MaxFPS bounds the arrival rate, both from the internal ticker and from Notify.
	MaxFPS int
	// IdleFPS is the ticker rate once the scene has been still for IdleAfter.
	// Zero keeps the ticker at MaxFPS.
	IdleFPS   int
	IdleAfter time.Duration
	// ReopenInterval spaces attempts to reopen a camera that is not open.
	ReopenInterval time.Duration
}

// Deps are the collaborators the controller drives. Motion, Logger and Tracer
// are optional.
type Deps struct {
	Camera    capture.Camera
	Locator   Locator
	Renderer  Preprocessor
	Load      Loader
	Presenter Presenter
	Motion    *capture.MotionDetector
	Logger    logrus.FieldLogger
	Tracer    trace.Tracer
}

// Stats are cumulative counters since the controller was created.
type Stats struct {
	Frames       uint64 `json:"frames"`
	Dropped      uint64 `json:"dropped"`
	Hands        uint64 `json:"hands"`
	Predictions  uint64 `json:"predictions"`
	Errors       uint64 `json:"errors"`
	DeviceErrors uint64 `json:"device_errors"`
}

type counters struct {
	frames       atomic.Uint64
	dropped      atomic.Uint64
	hands        atomic.Uint64
	predictions  atomic.Uint64
	errors       atomic.Uint64
	deviceErrors atomic.Uint64
}

// Controller is the pipeline state machine.
type Controller struct {
	config    Config
	camera    capture.Camera
	locator   Locator
	renderer  Preprocessor
	loader    Loader
	presenter Presenter
	motion    *capture.MotionDetector
	log       logrus.FieldLogger
	tracer    trace.Tracer
	limiter   *rate.Limiter

	arrivals chan struct{}
	busy     atomic.Bool
	paused   atomic.Bool
	idle     atomic.Bool
	closing  atomic.Bool

	mu         sync.Mutex
	state      State
	classifier Classifier
	started    bool
	cancel     context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	// Owned by the worker.
	deviceDown   bool
	lastReopen   time.Time
	lastActivity time.Time

	stats counters
}

// New validates deps and returns a controller in the Loading state.
func New(config Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Camera == nil:
		return nil, errors.New("pipeline: camera is required")
	case deps.Locator == nil:
		return nil, errors.New("pipeline: locator is required")
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	case deps.Load == nil:
		return nil, errors.New("pipeline: loader is required")
	case deps.Presenter == nil:
		return nil, errors.New("pipeline: presenter is required")
	}

	if config.MaxFPS <= 0 {
		config.MaxFPS = DefaultMaxFPS
	}
	if config.IdleFPS > config.MaxFPS {
		config.IdleFPS = config.MaxFPS
	}
	if config.IdleAfter <= 0 {
		config.IdleAfter = DefaultIdleAfter
	}
	if config.ReopenInterval <= 0 {
		config.ReopenInterval = DefaultReopenInterval
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/ayusman/mudra/internal/pipeline")
	}

	return &Controller{
		config:       config,
		camera:       deps.Camera,
		locator:      deps.Locator,
		renderer:     deps.Renderer,
		loader:       deps.Load,
		presenter:    deps.Presenter,
		motion:       deps.Motion,
		log:          logging.OrDiscard(deps.Logger).WithField("component", "pipeline"),
		tracer:       tracer,
		limiter:      rate.NewLimiter(rate.Limit(config.MaxFPS), 1),
		arrivals:     make(chan struct{}, 1),
		state:        Loading,
		lastActivity: time.Now(),
	}, nil
}

// Start opens the camera, starts loading the model and begins consuming
// arrivals. A camera that fails to open is retried from the frame loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing.Load() {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.lastReopen = time.Now()
	if err := c.camera.Open(); err != nil {
		c.deviceFailed(err)
	} else {
		c.camera.SetFPS(c.config.MaxFPS)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.presenter.ShowStatus(presenter.StatusLoading)

	c.wg.Add(3)
	go c.load(ctx)
	go c.work(ctx)
	go c.tick(ctx)

	c.log.WithField("max_fps", c.config.MaxFPS).Info("pipeline started")
	return nil
}

// Stop cancels the run, waits for every goroutine and releases the
// classifier, locator and camera. No presenter write happens after Stop
// returns. Stop is idempotent.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.closing.Store(true)

		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		c.presenter.Seal()
		c.wg.Wait()

		c.mu.Lock()
		cls := c.classifier
		c.classifier = nil
		c.mu.Unlock()

		var errs []error
		if cls != nil {
			if err := cls.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close classifier: %w", err))
			}
		}
		if err := c.locator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close locator: %w", err))
		}
		if err := c.camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
		if c.motion != nil {
			c.motion.Close()
		}
		c.stopErr = errors.Join(errs...)

		s := c.Stats()
		c.log.WithFields(logrus.Fields{
			"frames":      s.Frames,
			"dropped":     s.Dropped,
			"predictions": s.Predictions,
			"errors":      s.Errors,
		}).Info("pipeline stopped")
	})
	return c.stopErr
}

// Notify signals that a new frame is available. It never blocks. The arrival
// is dropped when the rate bound is exceeded, the pipeline is paused or
// stopped, a run is in progress or another arrival is already pending.
func (c *Controller) Notify() bool {
	if !c.limiter.Allow() {
		c.stats.dropped.Add(1)
		return false
	}
	return c.offer()
}

func (c *Controller) offer() bool {
	if c.closing.Load() || c.paused.Load() || c.busy.Load() {
		c.stats.dropped.Add(1)
		return false
	}
	select {
	case c.arrivals <- struct{}{}:
		return true
	default:
		c.stats.dropped.Add(1)
		return false
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Frames:       c.stats.frames.Load(),
		Dropped:      c.stats.dropped.Load(),
		Hands:        c.stats.hands.Load(),
		Predictions:  c.stats.predictions.Load(),
		Errors:       c.stats.errors.Load(),
		DeviceErrors: c.stats.deviceErrors.Load(),
	}
}

// SetPaused stops or resumes frame processing. Arrivals while paused are dropped.
func (c *Controller) SetPaused(paused bool) {
	if c.paused.Swap(paused) != paused {
		c.log.WithField("paused", paused).Info("pipeline pause toggled")
	}
}

// Paused reports whether processing is paused.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

func (c *Controller) load(ctx context.Context) {
	defer c.wg.Done()

	started := time.Now()
	cls, err := c.loader(ctx)
	if err == nil && cls == nil {
		err = &classifier.LoadError{Asset: "classifier", Err: errors.New("loader returned nothing")}
	}
	if err == nil && cls.NumClasses() == 0 {
		cls.Close()
		cls = nil
		err = &classifier.LoadError{Asset: "class names", Err: classifier.ErrNoClassNames}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		if cls != nil {
			cls.Close()
		}
		return
	}

	if err != nil {
		c.state = LoadFailed
		c.presenter.ShowStatus(presenter.StatusLoadFailed)
		c.log.WithError(err).Error("failed to load model")
		return
	}

	c.classifier = cls
	c.state = ReadyNoHand
	c.presenter.ShowStatus(presenter.StatusReady)
	c.log.WithFields(logrus.Fields{
		"classes":  cls.NumClasses(),
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("model loaded")
}

func (c *Controller) work(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.arrivals:
			if ctx.Err() != nil {
				return
			}
			c.runFrame(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	defer c.wg.Done()

	interval := c.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.offer()
			if next := c.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (c *Controller) interval() time.Duration {
	fps := c.config.MaxFPS
	if c.idle.Load() && c.config.IdleFPS > 0 {
		fps = c.config.IdleFPS
	}
	return time.Second / time.Duration(fps)
}

// runFrame takes one frame through the pipeline. Every failure is contained
// here and never reaches the next run.
func (c *Controller) runFrame(ctx context.Context) {
	c.busy.Store(true)
	defer c.busy.Store(false)

	ctx, span := c.tracer.Start(ctx, "pipeline.frame")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.fail(span, "panic", fmt.Errorf("recovered: %v", r))
		}
	}()

	frame, ok := c.readFrame()
	if !ok {
		return
	}
	defer frame.Close()
	c.stats.frames.Add(1)

	hand, err := c.locator.Locate(frame)
	if err != nil {
		c.fail(span, "locate", err)
		return
	}
	found := hand != nil
	span.SetAttributes(attribute.Bool("hand.detected", found))
	if found {
		c.stats.hands.Add(1)
	}
	c.trackActivity(frame, found)

	overlay, err := c.renderer.Render(frame, hand)
	if err != nil {
		c.fail(span, "render", err)
	} else {
		defer overlay.Close()
		c.publish(span, overlay)
	}

	cls := c.advance(found)
	if cls == nil || overlay == nil {
		return
	}
	c.classify(ctx, span, cls, overlay)
}

// advance applies the hand/no-hand transition and returns the classifier
// when this frame should be classified.
func (c *Controller) advance(found bool) Classifier {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Ready() {
		return nil
	}

	if !found {
		if c.state != ReadyNoHand {
			c.log.Debug("hand lost")
		}
		c.state = ReadyNoHand
		c.presenter.ShowStatus(presenter.StatusNoHand)
		return nil
	}

	if c.state != ReadyHandDetected {
		c.log.Debug("hand detected")
	}
	c.state = ReadyHandDetected
	return c.classifier
}

func (c *Controller) classify(ctx context.Context, span trace.Span, cls Classifier, overlay *render.Overlay) {
	t, err := c.renderer.ToTensor(overlay)
	if err != nil {
		c.fail(span, "tensor", err)
		return
	}
	defer t.Close()

	pred, err := cls.Classify(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(span, "classify", err)
		return
	}

	c.stats.predictions.Add(1)
	span.SetAttributes(
		attribute.String("prediction.label", pred.Label),
		attribute.Float64("prediction.confidence", pred.Confidence),
	)
	c.presenter.ShowPrediction(pred)
}

func (c *Controller) publish(span trace.Span, overlay *render.Overlay) {
	data, err := overlay.Encode()
	if err != nil {
		c.fail(span, "encode", err)
		return
	}
	size := overlay.Size()
	c.presenter.ShowOverlay(presenter.OverlayImage{
		JPEG:    data,
		Width:   size.X,
		Height:  size.Y,
		HasHand: overlay.HasHand(),
	})
}

func (c *Controller) readFrame() (*gocv.Mat, bool) {
	if !c.camera.IsOpen() && !c.reopen() {
		return nil, false
	}

	frame, err := c.camera.ReadFrame()
	if err != nil {
		c.deviceFailed(err)
		return nil, false
	}
	if c.deviceDown {
		c.deviceDown = false
		c.log.Info("camera recovered")
	}
	return frame, true
}

func (c *Controller) reopen() bool {
	now := time.Now()
	if !c.lastReopen.IsZero() && now.Sub(c.lastReopen) < c.config.ReopenInterval {
		return false
	}
	c.lastReopen = now

	if err := c.camera.Open(); err != nil {
		c.deviceFailed(err)
		return false
	}
	c.camera.SetFPS(c.config.MaxFPS)
	return true
}

// deviceFailed logs the first failure of a streak; the rest go to debug.
func (c *Controller) deviceFailed(err error) {
	c.stats.deviceErrors.Add(1)
	if c.deviceDown {
		c.log.WithError(err).Debug("camera still unavailable")
		return
	}
	c.deviceDown = true
	c.log.WithError(err).Warn("camera unavailable, pipeline idle")
}

// trackActivity drops the frame rate once neither motion nor a hand has been
// seen for IdleAfter, and restores it on the next sign of activity.
func (c *Controller) trackActivity(frame *gocv.Mat, found bool) {
	if c.motion == nil || c.config.IdleFPS <= 0 {
		return
	}

	now := time.Now()
	moved := c.motion.Detect(frame).Moved
	if found || moved {
		c.lastActivity = now
		if c.idle.CompareAndSwap(true, false) {
			c.camera.SetFPS(c.config.MaxFPS)
			c.log.Debug("scene active")
		}
		return
	}

	if now.Sub(c.lastActivity) > c.config.IdleAfter && c.idle.CompareAndSwap(false, true) {
		c.camera.SetFPS(c.config.IdleFPS)
		c.log.Debug("scene idle")
	}
}

func (c *Controller) fail(span trace.Span, stage string, err error) {
	c.stats.errors.Add(1)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	c.log.WithError(err).WithField("stage", stage).Warn("frame skipped")
}
