// Package presenter holds what the viewer currently sees: the latest overlay
// image and the latest display text.
//
// The pipeline is the single writer. HTTP handlers and the tray read
// concurrently and poll Version to notice changes.
package presenter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
)

// Display messages.
const (
	StatusLoading    = "Loading model..."
	StatusReady      = "Model loaded. Show your hand!"
	StatusLoadFailed = "Failed to load model."
	StatusNoHand     = "No hand detected"
)

// Result is the displayed text. Exactly one of Status and Prediction is set.
type Result struct {
	Status     string                 `json:"status,omitempty"`
	Prediction *classifier.Prediction `json:"prediction,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Text returns the display string.
func (r Result) Text() string {
	if r.Prediction != nil {
		return r.Prediction.String()
	}
	return r.Status
}

// OverlayImage is an encoded overlay ready to be served.
type OverlayImage struct {
	JPEG    []byte
	Width   int
	Height  int
	HasHand bool
}

// Presenter keeps the last written value of each slot. Writes replace the
// whole value; there is no history.
type Presenter struct {
	result        atomic.Pointer[Result]
	overlay       atomic.Pointer[OverlayImage]
	version       atomic.Uint64
	resultVersion atomic.Uint64

	// mu orders writes against Seal.
	mu     sync.Mutex
	sealed bool

	now func() time.Time
}

// New returns a presenter showing StatusLoading.
func New() *Presenter {
	p := &Presenter{now: time.Now}
	p.result.Store(&Result{Status: StatusLoading, UpdatedAt: p.now()})
	return p
}

// ShowOverlay replaces the displayed overlay.
func (p *Presenter) ShowOverlay(img OverlayImage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return
	}
	img.JPEG = append([]byte(nil), img.JPEG...)
	p.overlay.Store(&img)
	p.version.Add(1)
}

// ShowPrediction replaces the displayed text with a prediction. Showing the
// prediction already on display is a no-op.
func (p *Presenter) ShowPrediction(pred classifier.Prediction) {
	p.setResult(Result{Prediction: &pred})
}

// ShowStatus replaces the displayed text, and any prediction, with msg.
// Showing the status already on display is a no-op.
func (p *Presenter) ShowStatus(msg string) {
	p.setResult(Result{Status: msg})
}

func (p *Presenter) setResult(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed || sameResult(*p.result.Load(), r) {
		return
	}
	r.UpdatedAt = p.now()
	p.result.Store(&r)
	p.resultVersion.Add(1)
	p.version.Add(1)
}

func sameResult(a, b Result) bool {
	if a.Status != b.Status {
		return false
	}
	if a.Prediction == nil || b.Prediction == nil {
		return a.Prediction == nil && b.Prediction == nil
	}
	return *a.Prediction == *b.Prediction
}

// Seal drops every later write. Once Seal returns no slot changes again.
func (p *Presenter) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
}

// Sealed reports whether Seal has been called.
func (p *Presenter) Sealed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sealed
}

// Result returns the displayed text slot.
func (p *Presenter) Result() Result {
	return *p.result.Load()
}

// Text returns the display string.
func (p *Presenter) Text() string {
	return p.Result().Text()
}

// Overlay returns the latest overlay, if any was shown.
func (p *Presenter) Overlay() (OverlayImage, bool) {
	img := p.overlay.Load()
	if img == nil {
		return OverlayImage{}, false
	}
	return *img, true
}

// Version increases by one with every change to either slot.
func (p *Presenter) Version() uint64 {
	return p.version.Load()
}

// ResultVersion increases by one each time the displayed text changes.
// Overlay updates leave it alone.
func (p *Presenter) ResultVersion() uint64 {
	return p.resultVersion.Load()
}
