package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return GetDefaultConfig()
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Server.Metrics.Port = 70000 },
			wantErr: "Port",
		},
		{
			name:    "zero reclamation interval",
			mutate:  func(c *Config) { c.Reclamation.Interval = 0 },
			wantErr: "Interval",
		},
		{
			name:    "no storages",
			mutate:  func(c *Config) { c.Storages = nil },
			wantErr: "at least one storage",
		},
		{
			name: "duplicate storage names",
			mutate: func(c *Config) {
				c.Storages = append(c.Storages, c.Storages[0])
			},
			wantErr: "duplicate storage name",
		},
		{
			name:    "empty storage name",
			mutate:  func(c *Config) { c.Storages[0].Name = "" },
			wantErr: "Name",
		},
		{
			name:    "missing key expression",
			mutate:  func(c *Config) { c.Storages[0].KeyExpr = "" },
			wantErr: "KeyExpr",
		},
		{
			name:    "strip prefix outside key expression",
			mutate:  func(c *Config) { c.Storages[0].StripPrefix = "other/" },
			wantErr: "strip_prefix",
		},
		{
			name:    "missing dir",
			mutate:  func(c *Config) { delete(c.Storages[0].Options, "dir") },
			wantErr: "options.dir",
		},
		{
			name:    "no adapters enabled",
			mutate:  func(c *Config) { c.Adapters.NATS.Enabled = false },
			wantErr: "at least one adapter",
		},
		{
			name:    "NATS without URL",
			mutate:  func(c *Config) { c.Adapters.NATS.URL = "" },
			wantErr: "URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "ERROR"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be valid: %v", level, err)
		}
	}
}

func TestValidate_MultipleStorages(t *testing.T) {
	cfg := validConfig()
	cfg.Storages = append(cfg.Storages, StorageConfig{
		Name:    "archive",
		KeyExpr: "archive/**",
		Options: map[string]any{"dir": "archive", "read_only": "yes"},
	})

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}
