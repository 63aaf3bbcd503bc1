package detector

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "two hands allowed", mutate: func(c *Config) { c.MaxHands = 2 }},
		{name: "lite model allowed", mutate: func(c *Config) { c.ModelComplexity = 0 }},
		{name: "zero hands rejected", mutate: func(c *Config) { c.MaxHands = 0 }, wantErr: true},
		{name: "unknown complexity rejected", mutate: func(c *Config) { c.ModelComplexity = 2 }, wantErr: true},
		{name: "detection above one rejected", mutate: func(c *Config) { c.MinDetectionConfidence = 1.2 }, wantErr: true},
		{name: "negative tracking rejected", mutate: func(c *Config) { c.MinTrackingConfidence = -0.1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid detector config")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig_SingleHand(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.MaxHands)
	assert.Equal(t, 1, cfg.ModelComplexity)
	assert.InDelta(t, 0.7, cfg.MinDetectionConfidence, 1e-9)
	assert.InDelta(t, 0.7, cfg.MinTrackingConfidence, 1e-9)
}

func TestConfig_Args(t *testing.T) {
	args := DefaultConfig().Args()

	assert.Equal(t, []string{
		"--max-hands", "1",
		"--model-complexity", "1",
		"--min-detection-confidence", "0.7",
		"--min-tracking-confidence", "0.7",
	}, args)
}

func TestConfig_ArgsAcceptedByService(t *testing.T) {
	script, err := os.ReadFile(filepath.Join("..", "..", "scripts", "mediapipe_service.py"))
	require.NoError(t, err)

	for _, arg := range DefaultConfig().Args() {
		if strings.HasPrefix(arg, "--") {
			assert.Contains(t, string(script), `"`+arg+`"`, "service does not parse %s", arg)
		}
	}
}

func TestNewMediaPipeDetector_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHands = 0

	_, err := NewMediaPipeDetector(cfg, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrServiceNotFound)
}

func TestLocator_Locate(t *testing.T) {
	t.Run("no hands is not an error", func(t *testing.T) {
		mock := NewMockDetector()
		loc := NewLocator(mock)

		hand, err := loc.Locate(nil)

		require.NoError(t, err)
		assert.Nil(t, hand)
	})

	t.Run("first reported hand wins", func(t *testing.T) {
		first := FistLandmarks()
		second := OpenPalmLandmarks()
		second.Score = 0.99
		first.Score = 0.5

		mock := NewMockDetector()
		mock.SetHands([]HandLandmarks{first, second})

		hand, err := NewLocator(mock).Locate(nil)

		require.NoError(t, err)
		require.NotNil(t, hand)
		assert.Equal(t, first, *hand)
	})

	t.Run("result does not alias detector output", func(t *testing.T) {
		hands := []HandLandmarks{FistLandmarks()}
		mock := NewMockDetector()
		mock.SetHands(hands)

		hand, err := NewLocator(mock).Locate(nil)
		require.NoError(t, err)

		hand.Points[Wrist].X = 42
		assert.NotEqual(t, 42.0, hands[0].Points[Wrist].X)
	})

	t.Run("detector error is wrapped", func(t *testing.T) {
		cause := errors.New("service crashed")
		mock := NewMockDetector()
		mock.SetError(cause)

		hand, err := NewLocator(mock).Locate(nil)

		require.ErrorIs(t, err, cause)
		assert.Nil(t, hand)
	})

	t.Run("close releases detector", func(t *testing.T) {
		mock := NewMockDetector()
		require.NoError(t, NewLocator(mock).Close())
		assert.True(t, mock.Closed())
	})
}

func TestMockDetector_Script(t *testing.T) {
	mock := NewMockDetector()
	mock.SetHands([]HandLandmarks{OpenPalmLandmarks()})
	mock.SetScript(nil, []HandLandmarks{FistLandmarks()})

	hands, _ := mock.Detect(nil)
	assert.Empty(t, hands)

	hands, _ = mock.Detect(nil)
	require.Len(t, hands, 1)
	assert.Equal(t, FistLandmarks(), hands[0])

	hands, _ = mock.Detect(nil)
	require.Len(t, hands, 1)
	assert.Equal(t, OpenPalmLandmarks(), hands[0])

	assert.Equal(t, 3, mock.Calls())
}

func TestMockDetector_ImplementsDetector(t *testing.T) {
	var _ Detector = (*MockDetector)(nil)
	var _ Detector = (*MediaPipeDetector)(nil)
}

func TestConnections_ReferenceValidLandmarks(t *testing.T) {
	require.Len(t, Connections, 21)

	seen := make(map[int]bool)
	for _, c := range Connections {
		assert.True(t, c.From >= 0 && c.From < NumLandmarks, "from %d", c.From)
		assert.True(t, c.To >= 0 && c.To < NumLandmarks, "to %d", c.To)
		assert.NotEqual(t, c.From, c.To)
		seen[c.From] = true
		seen[c.To] = true
	}
	assert.Len(t, seen, NumLandmarks, "every landmark should be connected")
}

func TestPoint3D_Pixel(t *testing.T) {
	tests := []struct {
		name string
		p    Point3D
		want image.Point
	}{
		{name: "origin", p: Point3D{}, want: image.Pt(0, 0)},
		{name: "center", p: Point3D{X: 0.5, Y: 0.5}, want: image.Pt(320, 240)},
		{name: "depth ignored", p: Point3D{X: 0.25, Y: 0.75, Z: -3}, want: image.Pt(160, 360)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Pixel(640, 480))
		})
	}
}

func TestFixtures(t *testing.T) {
	t.Run("fist keeps fingertips below knuckles", func(t *testing.T) {
		h := FistLandmarks()
		for _, f := range [][2]int{{IndexMCP, IndexTip}, {MiddleMCP, MiddleTip}, {RingMCP, RingTip}, {PinkyMCP, PinkyTip}} {
			assert.GreaterOrEqual(t, h.Points[f[1]].Y, h.Points[f[0]].Y)
		}
	})

	t.Run("open palm extends every finger", func(t *testing.T) {
		h := OpenPalmLandmarks()
		for _, f := range [][2]int{{IndexMCP, IndexTip}, {MiddleMCP, MiddleTip}, {RingMCP, RingTip}, {PinkyMCP, PinkyTip}} {
			assert.Greater(t, h.Points[f[0]].Y-h.Points[f[1]].Y, 0.2)
		}
	})
}

func TestJSONHand_ToHandLandmarks(t *testing.T) {
	h := jsonHand{
		Points:     []Point3D{{X: 0.1, Y: 0.2, Z: 0.3}, {X: 0.4, Y: 0.5, Z: 0.6}},
		Handedness: "Left",
		Score:      0.8,
	}

	lm := h.toHandLandmarks()

	assert.Equal(t, "Left", lm.Handedness)
	assert.Equal(t, 0.8, lm.Score)
	assert.Equal(t, Point3D{X: 0.4, Y: 0.5, Z: 0.6}, lm.Points[1])
	assert.Equal(t, Point3D{}, lm.Points[2])
}
