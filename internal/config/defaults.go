package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Tracker: TrackerConfig{
			SweepIntervalSeconds: 60,
			MinSegmentSeconds:    1,
			HistoryLimit:         1000,
			SerializeWrites:      true,
		},
		Storage: StorageConfig{
			Path:              "~/.config/tabtime",
			SQLiteFile:        "tabtime.db",
			SQLiteJournalMode: "wal",
			HistoryKey:        "userHistory",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8722,
			MaxRequestSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Display: DisplayConfig{
			TimeLayout: "1/2/2006, 3:04:05 PM",
		},
	}
}
