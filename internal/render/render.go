// Package render draws the located hand onto a fixed canvas and turns that
// canvas into the classifier input.
//
// The rendered overlay is both what the viewer sees and what the model
// classifies; raw camera pixels never reach the classifier.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/tensor"
)

// Overlay styling.
var (
	Background     = color.RGBA{R: 0x1e, G: 0x1e, B: 0x2f, A: 0xff}
	ConnectorColor = color.RGBA{R: 0x61, G: 0xda, B: 0xfb, A: 0xff}
	LandmarkColor  = color.RGBA{R: 0x21, G: 0xd0, B: 0x7a, A: 0xff}
)

const (
	ConnectorWidth = 3
	LandmarkRadius = 5

	// DefaultInputSize is the model's square input edge in pixels.
	DefaultInputSize = 64
)

// RenderError reports a failure to build the overlay or the tensor.
// The frame is skipped for classification; the pipeline keeps running.
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Config controls canvas and tensor geometry.
type Config struct {
	// Width and Height size the canvas when no frame is supplied.
	Width  int
	Height int
	// InputSize is the square edge the overlay is resized to.
	InputSize int
	// Layout is the tensor dimension order expected by the model.
	Layout tensor.Layout
	// Mirror flips the encoded display image horizontally. The tensor is never mirrored.
	Mirror bool
}

// Renderer is the pipeline preprocessor.
type Renderer struct {
	config Config
}

// NewRenderer returns a Renderer, filling zero fields with defaults.
func NewRenderer(config Config) *Renderer {
	if config.InputSize == 0 {
		config.InputSize = DefaultInputSize
	}
	if config.Layout == "" {
		config.Layout = tensor.NHWC
	}
	return &Renderer{config: config}
}

// Render paints the background and, when hand is non-nil, the hand skeleton.
// The canvas takes the frame's size; without a frame the configured size is used.
func (r *Renderer) Render(frame *gocv.Mat, hand *detector.HandLandmarks) (*Overlay, error) {
	width, height := r.config.Width, r.config.Height
	if frame != nil && !frame.Empty() {
		width, height = frame.Cols(), frame.Rows()
	}
	if width <= 0 || height <= 0 {
		return nil, &RenderError{Stage: "overlay", Err: fmt.Errorf("invalid canvas size %dx%d", width, height)}
	}

	canvas := gocv.NewMatWithSizeFromScalar(scalar(Background), height, width, gocv.MatTypeCV8UC3)
	if canvas.Empty() {
		canvas.Close()
		return nil, &RenderError{Stage: "overlay", Err: fmt.Errorf("allocate %dx%d canvas", width, height)}
	}

	if hand != nil {
		drawHand(&canvas, hand)
	}

	return &Overlay{mat: canvas, hand: hand != nil, mirror: r.config.Mirror}, nil
}

func drawHand(canvas *gocv.Mat, hand *detector.HandLandmarks) {
	w, h := canvas.Cols(), canvas.Rows()

	for _, c := range detector.Connections {
		from := hand.Points[c.From].Pixel(w, h)
		to := hand.Points[c.To].Pixel(w, h)
		gocv.Line(canvas, from, to, ConnectorColor, ConnectorWidth)
	}
	for _, p := range hand.Points {
		gocv.Circle(canvas, p.Pixel(w, h), LandmarkRadius, LandmarkColor, -1)
	}
}

// ToTensor converts the overlay into the classifier input: RGB channel order,
// bilinear resize to InputSize, float32 values in 0..255, leading batch dimension.
func (r *Renderer) ToTensor(o *Overlay) (*tensor.Tensor, error) {
	if o == nil || o.Empty() {
		return nil, &RenderError{Stage: "tensor", Err: fmt.Errorf("empty overlay")}
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(o.mat, &rgb, gocv.ColorBGRToRGB)

	resized := gocv.NewMat()
	defer resized.Close()
	size := image.Pt(r.config.InputSize, r.config.InputSize)
	gocv.Resize(rgb, &resized, size, 0, 0, gocv.InterpolationLinear)

	floats := gocv.NewMat()
	defer floats.Close()
	resized.ConvertTo(&floats, gocv.MatTypeCV32FC3)

	if floats.Empty() {
		return nil, &RenderError{Stage: "tensor", Err: fmt.Errorf("convert overlay to float")}
	}

	t, err := tensor.FromImage(floats, r.config.Layout)
	if err != nil {
		return nil, &RenderError{Stage: "tensor", Err: err}
	}
	return t, nil
}

// InputSize returns the model input edge.
func (r *Renderer) InputSize() int {
	return r.config.InputSize
}

func scalar(c color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
}
