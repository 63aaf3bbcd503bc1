// Package classifier maps a rendered hand tensor to a sign-language label.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/mudra/internal/tensor"
)

var (
	ErrEmptyScores  = errors.New("empty score vector")
	ErrNoClassNames = errors.New("empty class name table")
	ErrNaNScore     = errors.New("score vector contains NaN")
)

// Prediction is the winning label and its score.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// String formats the prediction for display, e.g. "B — 80.0%".
func (p Prediction) String() string {
	return fmt.Sprintf("%s — %.1f%%", p.Label, p.Confidence*100)
}

// ClassifyError reports a failed inference. The previous prediction stays on screen.
type ClassifyError struct {
	Err error
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("classify: %v", e.Err)
}

func (e *ClassifyError) Unwrap() error {
	return e.Err
}

// ArgmaxLabel picks the highest score and pairs it with its class name.
// Ties resolve to the lowest index. A vector with any NaN is rejected.
func ArgmaxLabel(scores []float32, classNames []string) (Prediction, error) {
	if len(scores) == 0 {
		return Prediction{}, ErrEmptyScores
	}
	if len(classNames) == 0 {
		return Prediction{}, ErrNoClassNames
	}

	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = float64(s)
	}
	if floats.HasNaN(values) {
		return Prediction{}, ErrNaNScore
	}

	idx := floats.MaxIdx(values)
	if idx >= len(classNames) {
		return Prediction{}, fmt.Errorf("score index %d beyond %d class names", idx, len(classNames))
	}

	return Prediction{Label: classNames[idx], Confidence: values[idx]}, nil
}

// Classifier couples a model with its class table.
type Classifier struct {
	model      Model
	classNames []string
}

// New returns a Classifier. classNames must not be empty.
func New(model Model, classNames []string) (*Classifier, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	if len(classNames) == 0 {
		return nil, ErrNoClassNames
	}
	return &Classifier{
		model:      model,
		classNames: append([]string(nil), classNames...),
	}, nil
}

// Classify runs the model on t. The caller keeps ownership of t.
func (c *Classifier) Classify(ctx context.Context, t *tensor.Tensor) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, &ClassifyError{Err: err}
	}

	scores, err := c.model.Predict(t)
	if err != nil {
		return Prediction{}, &ClassifyError{Err: fmt.Errorf("predict: %w", err)}
	}

	p, err := ArgmaxLabel(scores, c.classNames)
	if err != nil {
		return Prediction{}, &ClassifyError{Err: err}
	}
	return p, nil
}

// NumClasses returns the size of the class table.
func (c *Classifier) NumClasses() int {
	return len(c.classNames)
}

// ClassNames returns a copy of the class table.
func (c *Classifier) ClassNames() []string {
	return append([]string(nil), c.classNames...)
}

// Close releases the model.
func (c *Classifier) Close() error {
	return c.model.Close()
}
