package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("default port = %d, want 8420", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host = %q", cfg.Server.Host)
	}
	if cfg.Database.Path == "" {
		t.Error("default database path is empty")
	}
	if cfg.Reaper.Interval != time.Minute {
		t.Errorf("default reaper interval = %v", cfg.Reaper.Interval)
	}
	if cfg.Reaper.InactiveAfter != 2*time.Hour {
		t.Errorf("default inactive threshold = %v", cfg.Reaper.InactiveAfter)
	}
	if cfg.Dashboard.BroadcastThrottle != 100*time.Millisecond {
		t.Errorf("default throttle = %v", cfg.Dashboard.BroadcastThrottle)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
reaper:
  inactive_after: 4h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Reaper.InactiveAfter != 4*time.Hour {
		t.Errorf("inactive_after = %v, want 4h", cfg.Reaper.InactiveAfter)
	}
	// Unset keys keep their defaults.
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Reaper.Interval != time.Minute {
		t.Errorf("interval = %v, want default", cfg.Reaper.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file did not error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("Load of invalid yaml did not error")
	}
}
