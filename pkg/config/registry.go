package config

import (
	"context"
	"fmt"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/backend"
	"github.com/marmos91/fsstore/pkg/gc"
	"github.com/marmos91/fsstore/pkg/registry"
)

// NewBackend creates the backend described by cfg.
func NewBackend(cfg *Config) (*backend.Backend, error) {
	return backend.New(backend.Config{
		Root: cfg.Backend.Root,
		Reclamation: gc.Config{
			Enabled:   cfg.Reclamation.Enabled,
			Interval:  cfg.Reclamation.Interval,
			Retention: cfg.Reclamation.Retention,
			DryRun:    cfg.Reclamation.DryRun,
		},
	})
}

// InitializeRegistry opens every configured storage and registers it.
//
// If any storage fails to open, the ones already opened are closed and the
// error is returned.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	b, _ := config.NewBackend(cfg)
//	reg, err := config.InitializeRegistry(ctx, cfg, b)
func InitializeRegistry(ctx context.Context, cfg *Config, b *backend.Backend) (*registry.Registry, error) {
	logger.Debug("Initializing registry from configuration")

	reg := registry.NewRegistry()

	for i, sc := range cfg.Storages {
		s, err := b.CreateStorage(ctx, backend.Properties{
			Name:        sc.Name,
			KeyExpr:     sc.KeyExpr,
			StripPrefix: sc.StripPrefix,
			Options:     sc.Options,
		})
		if err != nil {
			_ = reg.CloseAll(ctx)
			return nil, fmt.Errorf("storages[%d]: %w", i, err)
		}

		if err := reg.Add(sc.Name, sc.KeyExpr, s); err != nil {
			_ = s.Close(ctx)
			_ = reg.CloseAll(ctx)
			return nil, fmt.Errorf("storages[%d]: %w", i, err)
		}
	}

	logger.Info("Registered %d storage(s): %v", reg.Count(), reg.List())
	return reg, nil
}
