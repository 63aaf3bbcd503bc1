package detector

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Locator reduces a Detector to single-hand mode.
type Locator struct {
	detector Detector
}

// NewLocator wraps d.
func NewLocator(d Detector) *Locator {
	return &Locator{detector: d}
}

// Locate returns the hand in frame, or nil when none was found.
//
// When the detector reports several hands the first reported set is returned
// as is; there is no scoring or ranking between them. A nil result is a normal
// per-frame answer and is never retried.
func (l *Locator) Locate(frame *gocv.Mat) (*HandLandmarks, error) {
	hands, err := l.detector.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("detect hands: %w", err)
	}
	if len(hands) == 0 {
		return nil, nil
	}

	hand := hands[0]
	return &hand, nil
}

// Close releases the wrapped detector.
func (l *Locator) Close() error {
	return l.detector.Close()
}
