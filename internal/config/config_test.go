package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFrom_OverridesDefaults(t *testing.T) {
	p := writeConfig(t, `server:
  port: ":9000"
cache:
  png_cache_enabled: true
  png_cache_ttl: 10m
chrome:
  max_tabs: 2
render:
  timeout_secs: 7
`)
	cfg := LoadFrom(p)
	if cfg.Server.Port != ":9000" {
		t.Fatalf("unexpected port: %q", cfg.Server.Port)
	}
	if !cfg.Cache.PNGCacheEnabled || cfg.Cache.PNGCacheTTL != 10*time.Minute {
		t.Fatalf("unexpected cache section: %+v", cfg.Cache)
	}
	if cfg.Chrome.MaxTabs != 2 {
		t.Fatalf("unexpected max_tabs: %d", cfg.Chrome.MaxTabs)
	}
	if cfg.RenderTimeout() != 7*time.Second {
		t.Fatalf("unexpected render timeout: %v", cfg.RenderTimeout())
	}
	// untouched sections keep their defaults
	if cfg.Render.CDN.ChartJS == "" || cfg.Render.CDN.GoogleFonts == "" {
		t.Fatalf("expected render defaults to survive: %+v", cfg.Render)
	}
	if cfg.Chrome.RegionEnv != "NOW_REGION" || cfg.Chrome.DebugEnv != "DEBUG" {
		t.Fatalf("expected env marker defaults: %+v", cfg.Chrome)
	}
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "zero timeout", yml: "render:\n  timeout_secs: 0\n"},
		{name: "negative tabs", yml: "chrome:\n  max_tabs: -1\n"},
		{name: "zero interval", yml: "rate_limiter:\n  interval: 0s\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "zero scale", yml: "limits:\n  max_scale: 0\n"},
		{name: "zero body limit", yml: "limits:\n  max_body_bytes: 0\n"},
		{name: "empty chart.js source", yml: "render:\n  cdn:\n    chart_js: \"\"\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_MissingFilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for missing file")
		}
	}()
	_ = LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  host: \"127.0.0.2\"\n")
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	if cfg.Server.Host != "127.0.0.2" {
		t.Fatalf("expected CONFIG_PATH to be used, got host %q", cfg.Server.Host)
	}
}

func TestAcquireTimeoutFallback(t *testing.T) {
	cfg := Default()
	cfg.Chrome.AcquireTimeoutSecs = 0
	if cfg.AcquireTimeout() != 5*time.Second {
		t.Fatalf("expected 5s fallback, got %v", cfg.AcquireTimeout())
	}
}
