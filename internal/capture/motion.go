package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// MotionBlurSize is the Gaussian kernel edge applied before differencing.
	MotionBlurSize = 21
	// MotionPixelDelta is the grey-level change that marks a pixel as changed.
	MotionPixelDelta = 25
	// DefaultMotionRatio is the fraction of changed pixels that counts as motion.
	DefaultMotionRatio = 0.01
)

// Motion is the result of comparing a frame with its predecessor.
type Motion struct {
	Moved bool
	// Changed is the fraction of pixels that changed, 0..1.
	Changed float64
}

// MotionDetector compares consecutive frames. The pipeline uses it to decide
// when the scene has gone still and the frame rate can drop.
type MotionDetector struct {
	mu       sync.Mutex
	ratio    float64
	previous gocv.Mat
	primed   bool
}

// NewMotionDetector returns a detector reporting motion once more than ratio
// of the pixels change. A non-positive ratio selects DefaultMotionRatio.
func NewMotionDetector(ratio float64) *MotionDetector {
	if ratio <= 0 {
		ratio = DefaultMotionRatio
	}
	return &MotionDetector{ratio: ratio, previous: gocv.NewMat()}
}

// Detect compares frame with the previously seen frame. The first frame and
// frames whose size differs from the previous one only prime the detector.
func (m *MotionDetector) Detect(frame *gocv.Mat) Motion {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return Motion{}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(MotionBlurSize, MotionBlurSize), 0, 0, gocv.BorderDefault)

	primed := m.primed && m.previous.Rows() == blurred.Rows() && m.previous.Cols() == blurred.Cols()
	prev := m.previous
	m.previous = blurred
	m.primed = true
	defer prev.Close()

	if !primed {
		return Motion{}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, prev, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, MotionPixelDelta, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols())
	return Motion{Moved: changed > m.ratio, Changed: changed}
}

// Reset forgets the previous frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous.Close()
	m.previous = gocv.NewMat()
	m.primed = false
}

// Close releases the stored frame. The detector can still be used afterwards
// and starts over from an unprimed state.
func (m *MotionDetector) Close() error {
	m.Reset()
	return nil
}
