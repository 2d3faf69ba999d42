package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	SegmenterURL     string        `env:"SEGMENTER_URL"`
	SegmenterTimeout time.Duration `env:"SEGMENTER_TIMEOUT" default:"120s"`
	RemovalRetries   int           `env:"REMOVAL_RETRIES" default:"2"`

	RedisURL string `env:"REDIS_URL"`

	CanvasWidth    int   `env:"CANVAS_WIDTH" default:"800"`
	CanvasHeight   int   `env:"CANVAS_HEIGHT" default:"600"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" default:"10485760"`

	UploadRatePerSecond float64 `env:"UPLOAD_RATE_PER_SECOND" default:"2"`
	UploadRateBurst     int     `env:"UPLOAD_RATE_BURST" default:"5"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.SegmenterURL == "" {
		return fmt.Errorf("SEGMENTER_URL is required")
	}
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return fmt.Errorf("canvas dimensions must be positive, got %dx%d", cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.RemovalRetries < 0 {
		return fmt.Errorf("REMOVAL_RETRIES must not be negative, got %d", cfg.RemovalRetries)
	}
	return nil
}
