package config

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Addr() != ":8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Namespace != "wafflegram-v1" {
		t.Fatalf("expected default namespace, got %q", cfg.Namespace)
	}
	if cfg.Width != 3 || cfg.Height != 3 {
		t.Fatalf("expected 3x3, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.DBPath != "" {
		t.Fatalf("expected in-memory store by default, got %q", cfg.DBPath)
	}
	if cfg.OTELEndpoint != "" || cfg.OTELSampleRatio != 1 {
		t.Fatalf("expected tracing off with full sampling, got %q %v", cfg.OTELEndpoint, cfg.OTELSampleRatio)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WAFFLEGRAM_DB_PATH", "/tmp/w.db")
	t.Setenv("WAFFLEGRAM_GRID_WIDTH", "5")
	t.Setenv("WAFFLEGRAM_LOG_FORMAT", "json")
	t.Setenv("GCP_PROJECT_ID", "proj")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" || cfg.DBPath != "/tmp/w.db" || cfg.Width != 5 || cfg.GCPProjectID != "proj" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("WAFFLEGRAM_GRID_HEIGHT", "tall")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Config{Namespace: "app", Width: 3, Height: 3, LogLevel: "info", LogFormat: "text"}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"namespace slash", func(c *Config) { c.Namespace = "a/b" }},
		{"author without secret", func(c *Config) { c.Author = "@suzy.bxyz" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"sample ratio", func(c *Config) { c.OTELSampleRatio = 1.5 }},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config valid, got %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Config{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "grid", "main")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info suppressed, got %s", out)
	}
	if !strings.Contains(out, `"grid":"main"`) {
		t.Fatalf("expected json attrs, got %s", out)
	}
}
