package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:               30,
			PruneIntervalHours: 24,
		},
		Tracking: TrackingConfig{
			DenylistDomains: []string{},
		},
		Storage: StorageConfig{
			Path:              "~/.local/share/tabtrail",
			SQLiteFile:        "tabtrail.db",
			SQLiteJournalMode: "wal",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8731,
			MaxRequestSize: 1 << 20,
			RateLimit:      50,
			RateBurst:      200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
