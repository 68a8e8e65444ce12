package config

import (
	"github.com/marmos91/fsstore/pkg/adapter"
	natsadapter "github.com/marmos91/fsstore/pkg/adapter/nats"
	"github.com/marmos91/fsstore/pkg/metrics"
)

// CreateAdapters builds every enabled adapter.
func CreateAdapters(cfg *Config, natsMetrics metrics.AdapterMetrics) []adapter.Adapter {
	var adapters []adapter.Adapter

	if cfg.Adapters.NATS.Enabled {
		n := cfg.Adapters.NATS
		adapters = append(adapters, natsadapter.New(natsadapter.NATSConfig{
			URL:                  n.URL,
			SubjectPrefix:        n.SubjectPrefix,
			QueueGroup:           n.QueueGroup,
			MaxRequestsPerSecond: n.MaxRequestsPerSecond,
			Burst:                n.Burst,
			ConnectTimeout:       n.ConnectTimeout,
			ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		}, natsMetrics))
	}

	return adapters
}
