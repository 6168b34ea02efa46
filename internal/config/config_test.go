package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if path == "" {
		t.Fatal("expected resolved path even when file is missing")
	}
	if cfg.Pipeline.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("expected default max attempts, got %d", cfg.Pipeline.MaxAttempts)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	contents := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[pipeline]
max_attempts = 5
stage_timeout = 10

[workflow]
workers = 2

[logging]
format = "JSON"
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("max_attempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format = %q, want normalized json", cfg.Logging.Format)
	}
	if cfg.Workflow.Workers != 2 {
		t.Fatalf("workers = %d, want 2", cfg.Workflow.Workers)
	}
	// Unset sections fall back to defaults.
	if cfg.Workflow.HeartbeatTimeout != defaultHeartbeatTimeout {
		t.Fatalf("heartbeat_timeout = %d, want default", cfg.Workflow.HeartbeatTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "max_attempts"},
		{"zero workers", func(c *Config) { c.Workflow.Workers = 0 }, "workers"},
		{"bad format", func(c *Config) { c.Logging.Format = "yaml" }, "logging.format"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"inverted backoff", func(c *Config) { c.Pipeline.RetryBackoff = 100; c.Pipeline.RetryBackoffMax = 50 }, "retry_backoff"},
		{"timeout below interval", func(c *Config) { c.Workflow.HeartbeatTimeout = 1 }, "heartbeat_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				t.Fatalf("normalize: %v", err)
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := expandPath("~/x/y")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Fatalf("expandPath = %q", got)
	}
}
