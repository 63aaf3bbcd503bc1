// Package tensor holds the fixed-shape float32 buffer handed to the classifier.
//
// A Tensor owns native OpenCV memory. It is created once per frame, consumed
// by a single classification call and must be closed right after it.
package tensor

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Layout is the dimension order of a batched image tensor.
type Layout string

const (
	// NHWC is batch, height, width, channels. Keras-exported models expect it.
	NHWC Layout = "NHWC"
	// NCHW is batch, channels, height, width.
	NCHW Layout = "NCHW"
)

// ErrClosed is returned when a released tensor is used.
var ErrClosed = errors.New("tensor is closed")

// Tensor is a batched float32 image tensor with a leading batch dimension of 1.
type Tensor struct {
	mu     sync.Mutex
	blob   gocv.Mat
	shape  []int
	layout Layout
	closed bool
}

// FromImage builds a tensor from a float32 three-channel image (CV32FC3, HWC order).
// img is copied; the caller keeps ownership of it.
func FromImage(img gocv.Mat, layout Layout) (*Tensor, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	if img.Type() != gocv.MatTypeCV32FC3 {
		return nil, fmt.Errorf("unsupported image type %v", img.Type())
	}

	h, w, c := img.Rows(), img.Cols(), img.Channels()

	switch layout {
	case NHWC:
		src, err := img.DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("read image data: %w", err)
		}

		shape := []int{1, h, w, c}
		blob := gocv.NewMatWithSizes(shape, gocv.MatTypeCV32F)
		dst, err := blob.DataPtrFloat32()
		if err != nil {
			blob.Close()
			return nil, fmt.Errorf("allocate tensor: %w", err)
		}
		if len(dst) != len(src) {
			blob.Close()
			return nil, fmt.Errorf("allocate tensor: got %d values, want %d", len(dst), len(src))
		}
		copy(dst, src)

		return &Tensor{blob: blob, shape: shape, layout: layout}, nil

	case NCHW:
		blob := gocv.BlobFromImage(img, 1.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), false, false)
		if blob.Empty() {
			blob.Close()
			return nil, errors.New("allocate tensor: empty blob")
		}
		return &Tensor{blob: blob, shape: []int{1, c, h, w}, layout: layout}, nil

	default:
		return nil, fmt.Errorf("unknown tensor layout %q", layout)
	}
}

// Shape returns the tensor dimensions, batch first.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Layout returns the dimension order.
func (t *Tensor) Layout() Layout {
	return t.layout
}

// Mat exposes the native buffer for inference backends. It stays valid until Close.
func (t *Tensor) Mat() (gocv.Mat, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return gocv.Mat{}, ErrClosed
	}
	return t.blob, nil
}

// Values copies the tensor contents into Go memory in layout order.
func (t *Tensor) Values() ([]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	data, err := t.blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read tensor: %w", err)
	}
	return append([]float32(nil), data...), nil
}

// Closed reports whether the native buffer has been released.
func (t *Tensor) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases the native buffer. It is safe to call more than once.
func (t *Tensor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.blob.Close()
}
