// Package config loads wafflegram settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	DBPath    string `env:"WAFFLEGRAM_DB_PATH"`
	Namespace string `env:"WAFFLEGRAM_NAMESPACE" envDefault:"wafflegram-v1"`
	Width     int    `env:"WAFFLEGRAM_GRID_WIDTH" envDefault:"3"`
	Height    int    `env:"WAFFLEGRAM_GRID_HEIGHT" envDefault:"3"`

	// Author and AuthorSecret name the identity the server writes as. When
	// both are empty a throwaway identity is generated at startup.
	Author       string `env:"WAFFLEGRAM_AUTHOR"`
	AuthorSecret string `env:"WAFFLEGRAM_AUTHOR_SECRET"`

	LogLevel  string `env:"WAFFLEGRAM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WAFFLEGRAM_LOG_FORMAT" envDefault:"text"`

	// GCPProjectID enables caption suggestions through Vertex AI.
	GCPProjectID string `env:"GCP_PROJECT_ID"`
	GCPRegion    string `env:"GCP_REGION"`

	// OTELEndpoint enables span export over OTLP gRPC.
	OTELEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELSampleRatio float64 `env:"WAFFLEGRAM_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Namespace == "" || strings.ContainsAny(c.Namespace, "/{}") {
		return fmt.Errorf("invalid namespace %q", c.Namespace)
	}
	if (c.Author == "") != (c.AuthorSecret == "") {
		return fmt.Errorf("WAFFLEGRAM_AUTHOR and WAFFLEGRAM_AUTHOR_SECRET must be set together")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1], got %v", c.OTELSampleRatio)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string { return ":" + c.Port }

// NewLogger builds the process logger described by c.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
