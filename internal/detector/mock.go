package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a scripted implementation of the Detector interface.
// It is used in tests and as the fallback when MediaPipe is unavailable.
type MockDetector struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	script [][]HandLandmarks
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a MockDetector that finds no hands.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands returned by every Detect call.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetScript queues per-call results. Once the script is exhausted Detect
// falls back to the hands set with SetHands.
func (m *MockDetector) SetScript(results ...[]HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = results
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next scripted result, the configured hands, or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	return m.hands, nil
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newHand builds a right hand from a wrist position and per-finger joint
// positions listed thumb first, CMC/MCP to tip.
func newHand(wrist Point3D, fingers [5][4]Point3D) HandLandmarks {
	h := HandLandmarks{Handedness: "Right", Score: 0.95}
	h.Points[Wrist] = wrist
	for f, joints := range fingers {
		for j, p := range joints {
			h.Points[1+f*4+j] = p
		}
	}
	return h
}

// FistLandmarks returns a closed fist with the thumb resting along the index
// finger, the shape of the letter A.
func FistLandmarks() HandLandmarks {
	return newHand(Point3D{X: 0.5, Y: 0.8}, [5][4]Point3D{
		{{X: 0.55, Y: 0.75}, {X: 0.58, Y: 0.68}, {X: 0.59, Y: 0.62}, {X: 0.59, Y: 0.57}},
		{{X: 0.55, Y: 0.70, Z: -0.02}, {X: 0.55, Y: 0.66, Z: -0.05}, {X: 0.53, Y: 0.69, Z: -0.04}, {X: 0.52, Y: 0.72, Z: -0.02}},
		{{X: 0.50, Y: 0.68, Z: -0.02}, {X: 0.50, Y: 0.64, Z: -0.05}, {X: 0.48, Y: 0.67, Z: -0.04}, {X: 0.47, Y: 0.70, Z: -0.02}},
		{{X: 0.45, Y: 0.70, Z: -0.02}, {X: 0.45, Y: 0.66, Z: -0.05}, {X: 0.43, Y: 0.69, Z: -0.04}, {X: 0.42, Y: 0.72, Z: -0.02}},
		{{X: 0.40, Y: 0.72, Z: -0.02}, {X: 0.40, Y: 0.69, Z: -0.05}, {X: 0.38, Y: 0.71, Z: -0.04}, {X: 0.37, Y: 0.73, Z: -0.02}},
	})
}

// OpenPalmLandmarks returns a flat hand with all fingers extended and
// together, the shape of the letter B.
func OpenPalmLandmarks() HandLandmarks {
	return newHand(Point3D{X: 0.5, Y: 0.8}, [5][4]Point3D{
		{{X: 0.55, Y: 0.75, Z: 0.02}, {X: 0.57, Y: 0.70, Z: 0.03}, {X: 0.55, Y: 0.66, Z: 0.03}, {X: 0.52, Y: 0.64, Z: 0.03}},
		{{X: 0.55, Y: 0.68}, {X: 0.56, Y: 0.55}, {X: 0.56, Y: 0.45}, {X: 0.56, Y: 0.36}},
		{{X: 0.50, Y: 0.66}, {X: 0.50, Y: 0.52}, {X: 0.50, Y: 0.41}, {X: 0.50, Y: 0.30}},
		{{X: 0.45, Y: 0.68}, {X: 0.44, Y: 0.55}, {X: 0.44, Y: 0.45}, {X: 0.44, Y: 0.36}},
		{{X: 0.40, Y: 0.70}, {X: 0.39, Y: 0.60}, {X: 0.39, Y: 0.51}, {X: 0.39, Y: 0.43}},
	})
}
