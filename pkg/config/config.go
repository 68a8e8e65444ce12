package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete fsstore configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FSSTORE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Storage Configuration Pattern:
// Each storage carries a free-form options map that is decoded by the
// backend, so new properties do not require changes here.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Backend locates the directory all storages live under
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Reclamation holds the tombstone collector defaults shared by storages
	Reclamation ReclamationConfig `mapstructure:"reclamation" yaml:"reclamation"`

	// Storages lists the storages opened at startup
	Storages []StorageConfig `mapstructure:"storages" yaml:"storages" validate:"dive"`

	// Adapters contains transport adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// BackendConfig locates the backend root.
type BackendConfig struct {
	// Root is the parent directory of every storage. Empty means the
	// FSSTORE_ROOT environment variable, else ~/.fsstore/backend_fs.
	Root string `mapstructure:"root" yaml:"root"`
}

// ReclamationConfig configures tombstone reclamation.
type ReclamationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between collection runs
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// Retention is how long a tombstone must be older than now before it
	// is reclaimed
	Retention time.Duration `mapstructure:"retention" yaml:"retention" validate:"gte=0"`

	// DryRun reports what would be reclaimed without deleting
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// StorageConfig defines one storage.
type StorageConfig struct {
	// Name identifies the storage in logs, metrics and the registry
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// KeyExpr selects the keys routed to this storage
	KeyExpr string `mapstructure:"key_expr" yaml:"key_expr" validate:"required"`

	// StripPrefix is removed from keys before they become paths. Must be a
	// prefix of KeyExpr.
	StripPrefix string `mapstructure:"strip_prefix" yaml:"strip_prefix"`

	// Options holds backend properties such as dir, read_only, on_closure,
	// follow_links and keep_mime_types
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// AdaptersConfig contains all transport adapter configurations.
type AdaptersConfig struct {
	NATS NATSConfig `mapstructure:"nats" yaml:"nats"`
}

// NATSConfig configures the NATS adapter.
type NATSConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// URL of the NATS server
	URL string `mapstructure:"url" yaml:"url" validate:"required_if=Enabled true"`

	// SubjectPrefix is prepended to the put, delete and query subjects
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix" validate:"required_if=Enabled true"`

	// QueueGroup load-balances messages across instances when set
	QueueGroup string `mapstructure:"queue_group" yaml:"queue_group"`

	// MaxRequestsPerSecond throttles inbound messages (0 = unlimited)
	MaxRequestsPerSecond uint `mapstructure:"max_requests_per_second" yaml:"max_requests_per_second"`

	// Burst is the rate limiter bucket size (0 = MaxRequestsPerSecond)
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// ConnectTimeout bounds the initial connection attempt
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables, config file
// settings and the defaults a zero value cannot express.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FSSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FSSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("reclamation.enabled", true)
	v.SetDefault("adapters.nats.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/fsstore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is treated the same way.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fsstore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "fsstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
