package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/tabtrail/config.yaml"

// Config holds all tabtrail configuration.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// MaxRetentionDays keeps MaxAge well inside time.Duration's range.
const MaxRetentionDays = 36500

type RetentionConfig struct {
	Days               int `yaml:"days"`
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

// MaxAge is the retention window as a duration.
func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// PruneInterval is how often the daemon runs retention cleanup.
func (r RetentionConfig) PruneInterval() time.Duration {
	return time.Duration(r.PruneIntervalHours) * time.Hour
}

type TrackingConfig struct {
	DenylistDomains []string `yaml:"denylist_domains"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxRequestSize int64  `yaml:"max_request_size"`

	// RateLimit caps accepted actions per second; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Addr is the daemon's listen address.
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days)
	}
	if c.Retention.Days > MaxRetentionDays {
		return fmt.Errorf("retention.days must be at most %d, got %d", MaxRetentionDays, c.Retention.Days)
	}
	if c.Retention.PruneIntervalHours <= 0 {
		return fmt.Errorf("retention.prune_interval_hours must be positive, got %d", c.Retention.PruneIntervalHours)
	}
	if c.Retention.PruneIntervalHours > MaxRetentionDays*24 {
		return fmt.Errorf("retention.prune_interval_hours must be at most %d, got %d", MaxRetentionDays*24, c.Retention.PruneIntervalHours)
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	if c.Daemon.RateLimit < 0 || (c.Daemon.RateLimit > 0 && c.Daemon.RateBurst <= 0) {
		return fmt.Errorf("daemon.rate_limit needs a positive rate_burst")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DatabasePath is the expanded path of the SQLite file.
func (c *Config) DatabasePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ExpandPath is expandPath for callers outside the package.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
