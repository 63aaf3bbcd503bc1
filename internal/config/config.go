// Package config loads mudra settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ayusman/mudra/internal/detector"
)

// Prefix is prepended to every variable name.
const Prefix = "MUDRA_"

// Config is the full runtime configuration.
type Config struct {
	CameraID    int           `env:"CAMERA_ID" envDefault:"0" validate:"gte=0"`
	FrameWidth  int           `env:"FRAME_WIDTH" envDefault:"640" validate:"gt=0"`
	FrameHeight int           `env:"FRAME_HEIGHT" envDefault:"480" validate:"gt=0"`
	MaxFPS      int           `env:"MAX_FPS" envDefault:"30" validate:"min=1,max=120"`
	IdleFPS     int           `env:"IDLE_FPS" envDefault:"5" validate:"gte=0,ltefield=MaxFPS"`
	IdleAfter   time.Duration `env:"IDLE_AFTER" envDefault:"2s" validate:"gt=0"`

	ModelPath       string `env:"MODEL_PATH" envDefault:"model_web/model.onnx" validate:"required"`
	ModelConfigPath string `env:"MODEL_CONFIG"`
	ClassNamesPath  string `env:"CLASS_NAMES_PATH" envDefault:"model_web/class_names.json" validate:"required"`
	InputSize       int    `env:"INPUT_SIZE" envDefault:"64" validate:"min=8,max=1024"`
	TensorLayout    string `env:"TENSOR_LAYOUT" envDefault:"NHWC" validate:"oneof=NHWC NCHW"`
	MirrorDisplay   bool   `env:"MIRROR_DISPLAY" envDefault:"true"`

	Addr      string `env:"ADDR" envDefault:":8080" validate:"required"`
	DataDir   string `env:"DATA_DIR,expand" envDefault:"${HOME}/.mudra" validate:"required"`
	StaticDir string `env:"STATIC_DIR" envDefault:"web"`
	Tray      bool   `env:"TRAY" envDefault:"false"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile      string `env:"LOG_FILE"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	Detector detector.Config `envPrefix:"DETECTOR_"`
}

var validate = validator.New()

// Load reads the given dotenv files, or ./.env when none are given, then
// parses and validates the environment. A missing ./.env is not an error.
// Variables already set in the environment win over dotenv values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field, including the detector options.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Detector.Validate()
}

// DBPath is the session database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mudra.db")
}
