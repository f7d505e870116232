package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
logging:
  level: debug
  format: text
targets:
  - name: catfact
    endpoint: "https://catfact.ninja/fact"
  - name: self
    endpoint: "http://localhost:9464/metrics"
    kind: prometheus
resilience:
  attempt_timeout: 1s
  backoff: [100ms, 200ms]
  failure_threshold: 3
  open_duration: 10s
api:
  collect_timeout: 4s
dashboard:
  mode: poll
  upstream:
    base_url: "http://api:5000"
`
	cfg := loadFromString(t, yaml)

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("targets: got %d, want 2", len(cfg.Targets))
	}
	if cfg.Targets[0].Kind != types.KindHTTP {
		t.Errorf("default kind: got %q, want http", cfg.Targets[0].Kind)
	}
	if cfg.Targets[1].Kind != types.KindPrometheus {
		t.Errorf("kind: got %q, want prometheus", cfg.Targets[1].Kind)
	}
	if cfg.Resilience.AttemptTimeout != time.Second {
		t.Errorf("attempt_timeout: got %v", cfg.Resilience.AttemptTimeout)
	}
	if len(cfg.Resilience.Backoff) != 2 || cfg.Resilience.Backoff[1] != 200*time.Millisecond {
		t.Errorf("backoff: got %v", cfg.Resilience.Backoff)
	}
	if cfg.Resilience.FailureThreshold != 3 {
		t.Errorf("failure_threshold: got %d", cfg.Resilience.FailureThreshold)
	}
	if cfg.API.CollectTimeout != 4*time.Second {
		t.Errorf("collect_timeout: got %v", cfg.API.CollectTimeout)
	}
	if cfg.Dashboard.Mode != ModePoll || cfg.Dashboard.Upstream.BaseURL != "http://api:5000" {
		t.Errorf("dashboard: got %+v", cfg.Dashboard)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}

	if len(cfg.Targets) != len(types.DefaultTargets()) {
		t.Errorf("targets: got %d, want the default %d", len(cfg.Targets), len(types.DefaultTargets()))
	}
	if cfg.API.CollectTimeout != DefaultCollectTimeout {
		t.Errorf("collect_timeout: got %v, want %v", cfg.API.CollectTimeout, DefaultCollectTimeout)
	}
	if cfg.API.StreamInterval != DefaultStreamInterval {
		t.Errorf("stream_interval: got %v", cfg.API.StreamInterval)
	}
	if cfg.Dashboard.PollInterval != DefaultPollInterval {
		t.Errorf("poll_interval: got %v", cfg.Dashboard.PollInterval)
	}
	if cfg.Dashboard.Mode != ModeAggregate {
		t.Errorf("mode: got %q", cfg.Dashboard.Mode)
	}
	if cfg.Resilience.FailureThreshold != 5 || cfg.Resilience.OpenDuration != 15*time.Second {
		t.Errorf("resilience: got %+v", cfg.Resilience)
	}
	if cfg.Scoring.CPUDivisor != 50000 || cfg.Scoring.MemCeiling != 90 {
		t.Errorf("scoring: got %+v", cfg.Scoring)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvDashboardMode, "stream")
	t.Setenv(EnvUpstreamGRPCAddress, "api:5001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level: got %q, want warn", cfg.Logging.Level)
	}
	if cfg.Dashboard.Mode != ModeStream || cfg.Dashboard.Upstream.GRPCAddress != "api:5001" {
		t.Errorf("dashboard: got %+v", cfg.Dashboard)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown level", "logging:\n  level: loud\n"},
		{"unknown format", "logging:\n  format: xml\n"},
		{"duplicate target", `
targets:
  - name: a
    endpoint: "https://a.example.com"
  - name: a
    endpoint: "https://b.example.com"
`},
		{"bad endpoint", `
targets:
  - name: a
    endpoint: "not a url"
`},
		{"unknown kind", `
targets:
  - name: a
    endpoint: "https://a.example.com"
    kind: ftp
`},
		{"zero threshold", "resilience:\n  failure_threshold: -1\n"},
		{"negative backoff", "resilience:\n  backoff: [-1s]\n"},
		{"unknown mode", "dashboard:\n  mode: carrier-pigeon\n"},
		{"poll without base url", "dashboard:\n  mode: poll\n  upstream:\n    base_url: \"\"\n"},
		{"stream without address", "dashboard:\n  mode: stream\n  upstream:\n    grpc_address: \"\"\n"},
		{"floor above ceiling", "scoring:\n  cpu_floor: 90\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadStringErr(t, tt.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid: %v", err)
			}
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := loadStringErr(t, "targets: [\n")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrInvalid) {
		t.Errorf("parse errors should not wrap ErrInvalid: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatch_AppliesReload(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, path, nil, func(c *Config) { changes <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("logging:\n  level: [broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level: got %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	return Load(writeConfig(t, content))
}
