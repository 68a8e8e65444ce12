package config

import (
	"github.com/marmos91/fsstore/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NATSMetrics is the metrics collector for the NATS adapter (never nil, uses noop if disabled)
	NATSMetrics metrics.AdapterMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled, the global Prometheus registry is initialized
// before any storage is created, so storages created afterwards record into
// it. Otherwise no-op implementations are returned.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			NATSMetrics: metrics.NoopAdapterMetrics{},
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		NATSMetrics: metrics.NewAdapterMetrics("nats"),
	}
}
