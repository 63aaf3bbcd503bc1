package presenter

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/classifier"
)

func newTestPresenter() *Presenter {
	p := New()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	return p
}

func TestPresenter_Initial(t *testing.T) {
	p := New()

	assert.Equal(t, StatusLoading, p.Text())
	assert.Nil(t, p.Result().Prediction)
	assert.Equal(t, uint64(0), p.Version())

	_, ok := p.Overlay()
	assert.False(t, ok)
}

func TestPresenter_ShowPrediction(t *testing.T) {
	p := newTestPresenter()

	p.ShowPrediction(classifier.Prediction{Label: "B", Confidence: 0.8})

	want := Result{
		Prediction: &classifier.Prediction{Label: "B", Confidence: 0.8},
		UpdatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if diff := cmp.Diff(want, p.Result()); diff != "" {
		t.Errorf("Result() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "B — 80.0%", p.Text())
	assert.Equal(t, uint64(1), p.Version())
}

func TestPresenter_ShowStatusClearsPrediction(t *testing.T) {
	p := newTestPresenter()

	p.ShowPrediction(classifier.Prediction{Label: "A", Confidence: 0.9})
	p.ShowStatus(StatusNoHand)

	r := p.Result()
	assert.Nil(t, r.Prediction)
	assert.Equal(t, StatusNoHand, r.Text())
	assert.Equal(t, uint64(2), p.Version())
}

func TestPresenter_RepeatedStatus(t *testing.T) {
	p := newTestPresenter()

	for i := 0; i < 10; i++ {
		p.ShowStatus(StatusNoHand)
		assert.Equal(t, StatusNoHand, p.Text())
	}
	assert.Equal(t, uint64(1), p.Version())
	assert.Equal(t, uint64(1), p.ResultVersion())
}

func TestPresenter_RepeatedPrediction(t *testing.T) {
	p := newTestPresenter()

	p.ShowPrediction(classifier.Prediction{Label: "B", Confidence: 0.8})
	p.ShowPrediction(classifier.Prediction{Label: "B", Confidence: 0.8})
	assert.Equal(t, uint64(1), p.ResultVersion())

	p.ShowPrediction(classifier.Prediction{Label: "B", Confidence: 0.9})
	assert.Equal(t, uint64(2), p.ResultVersion())
	assert.Equal(t, "B — 90.0%", p.Text())
}

func TestPresenter_OverlayLeavesResultVersion(t *testing.T) {
	p := newTestPresenter()
	p.ShowStatus(StatusNoHand)

	for i := 0; i < 5; i++ {
		p.ShowOverlay(OverlayImage{JPEG: []byte{byte(i)}})
		p.ShowStatus(StatusNoHand)
	}

	assert.Equal(t, uint64(1), p.ResultVersion())
	assert.Equal(t, uint64(6), p.Version())
}

func TestPresenter_ShowOverlay(t *testing.T) {
	p := newTestPresenter()
	data := []byte{0xff, 0xd8, 0xff}

	p.ShowOverlay(OverlayImage{JPEG: data, Width: 640, Height: 480, HasHand: true})
	data[0] = 0

	img, ok := p.Overlay()
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, img.JPEG)
	assert.Equal(t, 640, img.Width)
	assert.True(t, img.HasHand)

	p.ShowOverlay(OverlayImage{JPEG: []byte{1}, Width: 10, Height: 10})
	img, _ = p.Overlay()
	assert.Equal(t, []byte{1}, img.JPEG)
	assert.False(t, img.HasHand)
}

func TestPresenter_Seal(t *testing.T) {
	p := newTestPresenter()
	p.ShowStatus(StatusReady)

	p.Seal()
	assert.True(t, p.Sealed())

	p.ShowStatus(StatusNoHand)
	p.ShowPrediction(classifier.Prediction{Label: "A", Confidence: 1})
	p.ShowOverlay(OverlayImage{JPEG: []byte{1}})

	assert.Equal(t, StatusReady, p.Text())
	assert.Equal(t, uint64(1), p.Version())
	_, ok := p.Overlay()
	assert.False(t, ok)
}

func TestPresenter_ConcurrentReaders(t *testing.T) {
	p := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				p.ShowStatus(StatusNoHand)
			} else {
				p.ShowPrediction(classifier.Prediction{Label: "A", Confidence: 0.5})
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				text := p.Text()
				if text != StatusLoading && text != StatusNoHand && text != "A — 50.0%" {
					t.Errorf("unexpected text %q", text)
					return
				}
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, uint64(500), p.Version())
}
