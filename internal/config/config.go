package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ReaperConfig struct {
	// Interval between sweeps; a sweep also runs once at startup.
	Interval time.Duration `yaml:"interval"`
	// InactiveAfter is the long threshold: a session with no backing pid
	// and no activity for this long is marked completed, and any record
	// older than this is hard-deleted.
	InactiveAfter time.Duration `yaml:"inactive_after"`
	// CompletedPruneAfter is the short threshold for hard-deleting
	// completed records.
	CompletedPruneAfter time.Duration `yaml:"completed_prune_after"`
}

type DashboardConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Port: 8420,
			Host: "127.0.0.1",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".agent-beacon", "sessions.db"),
		},
		Reaper: ReaperConfig{
			Interval:            time.Minute,
			InactiveAfter:       2 * time.Hour,
			CompletedPruneAfter: 30 * time.Minute,
		},
		Dashboard: DashboardConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
	}
}

// Load reads the config file at path, applying defaults for anything the
// file leaves unset. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
