package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
app_name: testhost
extension:
  path: /srv/extensions
  includes: [Alpha, Beta]
  excludes: [beta]
  reserved_names: [host]
  release_on_disable: true
logger:
  level: 5
  format: json
metrics:
  enabled: true
  storage: redis
  retention: 1h
  redis:
    addr: 127.0.0.1:6379
    db: 2
scheduler:
  max_workers: 4
  task_timeout: 5s
observes:
  tracer:
    enabled: true
    sampling_rate: 0.5
  sentry:
    dsn: https://key@sentry.example.com/1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return file
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.AppName != "testhost" {
		t.Errorf("expected app name testhost, got %s", cfg.AppName)
	}
	if cfg.Extension.Path != "/srv/extensions" {
		t.Errorf("unexpected extension path %s", cfg.Extension.Path)
	}
	if !cfg.Extension.ReleaseOnDisable {
		t.Error("expected release on disable")
	}
	if cfg.Logger.Level != 5 || cfg.Logger.Format != "json" {
		t.Errorf("unexpected logger config %+v", cfg.Logger)
	}
	if cfg.Logger.Output != "stdout" {
		t.Errorf("expected default output stdout, got %s", cfg.Logger.Output)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Storage != "redis" {
		t.Errorf("unexpected metrics config %+v", cfg.Metrics)
	}
	if cfg.Metrics.Retention != time.Hour {
		t.Errorf("expected retention 1h, got %v", cfg.Metrics.Retention)
	}
	if cfg.Metrics.Redis.Addr != "127.0.0.1:6379" || cfg.Metrics.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Metrics.Redis)
	}
	if cfg.Scheduler.MaxWorkers != 4 || cfg.Scheduler.QueueSize != 1000 {
		t.Errorf("unexpected scheduler config %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.TaskTimeout != 5*time.Second {
		t.Errorf("expected task timeout 5s, got %v", cfg.Scheduler.TaskTimeout)
	}
	if !cfg.Observes.Tracer.Enabled || cfg.Observes.Tracer.SamplingRate != 0.5 {
		t.Errorf("unexpected tracer config %+v", cfg.Observes.Tracer)
	}
	if cfg.Observes.Tracer.Endpoint != "localhost:4317" {
		t.Errorf("expected default endpoint, got %s", cfg.Observes.Tracer.Endpoint)
	}
	if cfg.Observes.Sentry.DSN == "" {
		t.Error("expected sentry dsn")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.AppName != "hostkit" {
		t.Errorf("expected default app name, got %s", cfg.AppName)
	}
	if len(cfg.Extension.ReservedNames) != 0 {
		t.Errorf("expected no extra reserved names, got %v", cfg.Extension.ReservedNames)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled by default")
	}
}

func TestExtensionFilters(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"alpha", true},
		{"Beta", false},
		{"Gamma", false},
	}
	for _, tt := range tests {
		if got := cfg.Extension.ShouldLoad(tt.name); got != tt.want {
			t.Errorf("ShouldLoad(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	open := &Extension{}
	if !open.ShouldLoad("anything") {
		t.Error("empty include list should load everything")
	}
}
