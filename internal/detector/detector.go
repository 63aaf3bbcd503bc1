package detector

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gocv.io/x/gocv"
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds the options passed to the landmark detection capability.
type Config struct {
	// MaxHands limits how many hands are tracked concurrently.
	MaxHands int `env:"MAX_HANDS" envDefault:"1" validate:"min=1,max=4"`

	// ModelComplexity selects the accuracy/speed tier (0 = lite, 1 = full).
	ModelComplexity int `env:"MODEL_COMPLEXITY" envDefault:"1" validate:"oneof=0 1"`

	// MinDetectionConfidence is the threshold to accept a newly detected hand.
	MinDetectionConfidence float64 `env:"MIN_DETECTION_CONFIDENCE" envDefault:"0.7" validate:"gte=0,lte=1"`

	// MinTrackingConfidence is the threshold to keep tracking an existing hand.
	MinTrackingConfidence float64 `env:"MIN_TRACKING_CONFIDENCE" envDefault:"0.7" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the single-hand configuration used for sign recognition.
func DefaultConfig() Config {
	return Config{
		MaxHands:               1,
		ModelComplexity:        1,
		MinDetectionConfidence: 0.7,
		MinTrackingConfidence:  0.7,
	}
}

var validate = validator.New()

// Validate reports whether every option is within its accepted range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}
	return nil
}

// Args renders the configuration as command-line flags for the detector service.
func (c Config) Args() []string {
	return []string{
		"--max-hands", fmt.Sprint(c.MaxHands),
		"--model-complexity", fmt.Sprint(c.ModelComplexity),
		"--min-detection-confidence", fmt.Sprint(c.MinDetectionConfidence),
		"--min-tracking-confidence", fmt.Sprint(c.MinTrackingConfidence),
	}
}
