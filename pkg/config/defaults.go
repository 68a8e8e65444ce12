package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Storage options are defaulted by the backend when the storage is created.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyReclamationDefaults(&cfg.Reclamation)

	if len(cfg.Storages) == 0 {
		cfg.Storages = []StorageConfig{defaultStorage()}
	}
	applyStorageDefaults(cfg.Storages)

	applyNATSDefaults(&cfg.Adapters.NATS)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyReclamationDefaults(cfg *ReclamationConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention == 0 {
		cfg.Retention = 5 * time.Second
	}
}

// applyStorageDefaults normalizes strip prefixes to end with a separator.
func applyStorageDefaults(storages []StorageConfig) {
	for i := range storages {
		s := &storages[i]
		if s.StripPrefix != "" && !strings.HasSuffix(s.StripPrefix, "/") {
			s.StripPrefix += "/"
		}
		if s.Options == nil {
			s.Options = make(map[string]any)
		}
	}
}

func applyNATSDefaults(cfg *NATSConfig) {
	if cfg.URL == "" {
		cfg.URL = "nats://127.0.0.1:4222"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "fsstore"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
}

func defaultStorage() StorageConfig {
	return StorageConfig{
		Name:        "demo",
		KeyExpr:     "demo/example/**",
		StripPrefix: "demo/example",
		Options: map[string]any{
			"dir":          "example",
			"on_closure":   "do_nothing",
			"read_only":    false,
			"follow_links": false,
		},
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Reclamation: ReclamationConfig{Enabled: true},
		Adapters: AdaptersConfig{
			NATS: NATSConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
