package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thinws.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultMatchesTransportDefaults(t *testing.T) {
	cfg := Default()
	p := cfg.RetryPolicy()
	if p.MaxAttempts != 10 || p.Factor != 2 || p.MinInterval != time.Second || p.MaxInterval != 8*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", p)
	}
	if cfg.Metrics.Path != "/metrics" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("default config has no url, expected ErrInvalid, got %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
url = " ws://localhost:8080/ws "
connection_id = "conn-1"

[retry]
max_attempts = 3
min_interval = "250ms"

[keepalive]
interval = "10s"

[timeouts]
request = "4s"

[log]
level = "debug"
json = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.URL != "ws://localhost:8080/ws" || cfg.ConnectionID != "conn-1" {
		t.Fatalf("url/id not loaded: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.MinInterval.Duration != 250*time.Millisecond {
		t.Fatalf("retry not loaded: %+v", cfg.Retry)
	}
	// незаданные ключи остаются по умолчанию
	if cfg.Retry.Factor != 2 || cfg.Retry.MaxInterval.Duration != 8*time.Second {
		t.Fatalf("retry defaults lost: %+v", cfg.Retry)
	}
	if cfg.Keepalive.Interval.Duration != 10*time.Second || cfg.Keepalive.PongWait.Duration != 30*time.Second {
		t.Fatalf("keepalive: %+v", cfg.Keepalive)
	}
	if cfg.Timeouts.Request.Duration != 4*time.Second {
		t.Fatalf("request timeout: %v", cfg.Timeouts.Request)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if n := len(cfg.TransportOptions()); n != 5 {
		t.Fatalf("transport options = %d, want 5 with keepalive", n)
	}
	if n := len(cfg.ClientOptions(zerolog.Nop())); n != 4 {
		t.Fatalf("client options = %d, want 4", n)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
url = "ws://localhost/ws"
[retry]
max_attempt = 3
`)
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for typo, got %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeFile(t, `
[timeouts]
write = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"valid", func(c *Config) {}, true},
		{"http scheme", func(c *Config) { c.URL = "http://localhost/ws" }, false},
		{"factor below one", func(c *Config) { c.Retry.Factor = 0.5 }, false},
		{"min above max", func(c *Config) { c.Retry.MinInterval = Duration{time.Minute} }, false},
		{"negative keepalive", func(c *Config) { c.Keepalive.Interval = Duration{-time.Second} }, false},
		{"negative request", func(c *Config) { c.Timeouts.Request = Duration{-time.Second} }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"unlimited retries", func(c *Config) { c.Retry.MaxAttempts = -1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.URL = "wss://example.com/ws"
			tc.mut(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoggingSection(t *testing.T) {
	t.Setenv("THINWS_LOG_LEVEL", "")
	t.Setenv("THINWS_LOG_JSON", "")
	t.Setenv("THINWS_LOG_NOCOLOR", "")
	cfg := Default()
	cfg.Log = Log{Level: "warn", JSON: true}
	lc := cfg.Logging()
	if lc.Level != zerolog.WarnLevel || !lc.JSON || !lc.Timestamp {
		t.Fatalf("unexpected logging config: %+v", lc)
	}

	t.Setenv("THINWS_LOG_LEVEL", "error")
	if lc := cfg.Logging(); lc.Level != zerolog.ErrorLevel {
		t.Fatalf("env override ignored: %v", lc.Level)
	}
}
