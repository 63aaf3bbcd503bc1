package classifier

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/tensor"
)

// Model runs inference on a single tensor and returns the class score vector.
type Model interface {
	Predict(t *tensor.Tensor) ([]float32, error)
	Close() error
}

// ErrModelClosed is returned by Predict after Close.
var ErrModelClosed = errors.New("model is closed")

// DNNModel is a Model backed by the OpenCV DNN module. It accepts any format
// ReadNet understands (ONNX, TensorFlow, Caffe, ...).
type DNNModel struct {
	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

// NewDNNModel reads the network from model and the optional config file.
func NewDNNModel(model, config string) (*DNNModel, error) {
	net := gocv.ReadNet(model, config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read network %s: empty network", model)
	}
	return &DNNModel{net: net}, nil
}

// Predict feeds t to the network and copies the output into Go memory.
// The output Mat is released before returning.
func (m *DNNModel) Predict(t *tensor.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModelClosed
	}

	blob, err := t.Mat()
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, errors.New("forward: empty output")
	}

	scores, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return append([]float32(nil), scores...), nil
}

// Close releases the network. It is safe to call more than once.
func (m *DNNModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}
