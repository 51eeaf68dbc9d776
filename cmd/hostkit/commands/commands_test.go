package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, file, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestResolveDirectory(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yml", "name: A\nversion: \"1.0\"\nmain: a\n")
	writeManifest(t, dir, "b.yml", "name: B\nversion: \"1.0\"\nmain: b\ndepend: [A]\n")
	writeManifest(t, dir, "c.yml", "name: C\nversion: \"1.0\"\nmain: c\ndepend: [D]\n")
	writeManifest(t, dir, "broken.yaml", "name: [\n")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	result, err := resolveDirectory(context.Background(), dir, []string{"hostkit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(result.Names(), ","); got != "A,B" {
		t.Errorf("expected A,B, got %s", got)
	}
	if len(result.Failures) != 2 {
		t.Errorf("expected broken and C to fail, got %d failures", len(result.Failures))
	}
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yml", "name: A\nversion: \"1.0\"\nmain: a\n")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"resolve", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "1. A v1.0 (a.yml)") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestResolveCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "x.yml", "name: X\nversion: \"1.0\"\nmain: x\ndepend: [Y]\n")
	writeManifest(t, dir, "y.yml", "name: Y\nversion: \"1.0\"\nmain: y\ndepend: [X]\n")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"resolve", dir})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for a dependency cycle")
	}
	if !strings.Contains(out.String(), "circular dependency") {
		t.Errorf("expected circular dependency in output, got %s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), `"goVersion"`) {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestHostLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "heartbeat.yml", "name: heartbeat\nversion: \"1.0\"\nmain: hostkit.heartbeat\ncommands:\n  - name: beats\n")

	cfg, _, err := loadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Extension.Path = dir

	ctx := context.Background()
	h, err := newHost(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.manager.IsEnabledByName("heartbeat") {
		t.Fatal("expected heartbeat to be enabled")
	}
	if err := h.Dispatch(ctx, "beats"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := h.Dispatch(ctx, "nope"); err == nil {
		t.Error("expected unknown command error")
	}

	if err := h.Reload(ctx, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.manager.IsEnabledByName("heartbeat") {
		t.Error("expected heartbeat to be enabled after reload")
	}

	h.Close(ctx)
	if ext, ok := h.manager.Extension("heartbeat"); !ok || ext.IsEnabled() {
		t.Error("expected heartbeat to be disabled after close")
	}
}
