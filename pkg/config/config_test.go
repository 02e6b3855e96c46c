package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/videodec/pkg/ports"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Codec != "h264" {
		t.Errorf("expected h264 default codec, got %s", cfg.Codec)
	}
	if cfg.InputBufferSize != 1<<20 {
		t.Errorf("expected 1MiB input buffer, got %d", cfg.InputBufferSize)
	}
	if cfg.MaxConcurrentInstances != -1 {
		t.Errorf("expected unlimited instances, got %d", cfg.MaxConcurrentInstances)
	}
	if cfg.Level() != ports.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
codec: vp9
device_path: /dev/video12
max_concurrent_instances: 2
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Codec != "vp9" {
		t.Errorf("expected vp9, got %s", cfg.Codec)
	}
	if cfg.DevicePath != "/dev/video12" {
		t.Errorf("expected device path override, got %s", cfg.DevicePath)
	}
	if cfg.MaxConcurrentInstances != 2 {
		t.Errorf("expected instance cap 2, got %d", cfg.MaxConcurrentInstances)
	}
	// Untouched fields keep their defaults.
	if cfg.InputBufferSize != 1<<20 {
		t.Errorf("expected default input buffer size, got %d", cfg.InputBufferSize)
	}
	if cfg.Level() != ports.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.Level())
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
