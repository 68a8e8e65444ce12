// Package server runs the transport adapters over a registry of storages.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/adapter"
	"github.com/marmos91/fsstore/pkg/metrics"
	"github.com/marmos91/fsstore/pkg/registry"
)

// Server coordinates the adapters, the optional metrics endpoint and the
// storages they share.
//
// Lifecycle:
//  1. New() with a populated registry
//  2. AddAdapter() for each transport
//  3. Serve() blocks until ctx is cancelled or an adapter fails
//  4. On exit every adapter is stopped, then every storage is closed
//
// Thread safety:
// AddAdapter must not be called after Serve.
type Server struct {
	registry        *registry.Registry
	metrics         *metrics.Server
	shutdownTimeout time.Duration

	adapters []adapter.Adapter

	mu     sync.RWMutex
	served bool
}

// Config configures a Server.
type Config struct {
	// ShutdownTimeout bounds adapter shutdown and storage closing
	// (default: 30s).
	ShutdownTimeout time.Duration

	// Metrics is served alongside the adapters when set.
	Metrics *metrics.Server
}

// New creates a server over reg.
func New(reg *registry.Registry, cfg Config) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		registry:        reg,
		metrics:         cfg.Metrics,
		shutdownTimeout: cfg.ShutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a transport and injects the registry into it.
//
// Returns an error if the server is already serving or an adapter for the
// same protocol exists.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
	}

	a.SetRegistry(s.registry)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter", protocol)
	return nil
}

// Serve runs every adapter until ctx is cancelled or one of them fails.
//
// Returns:
//   - nil when stopped through ctx
//   - the first adapter error otherwise, joined with any error closing
//     the storages
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return fmt.Errorf("Serve() has already been called on this server instance")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting fsstore with %d adapter(s) and %d storage(s)",
		len(adapters), s.registry.Count())

	// Adapters and the metrics server share a child context so an adapter
	// failure stops everything.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	if s.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.metrics.Start(runCtx); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter", protocol)

			if err := a.Serve(runCtx); err != nil {
				if !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped: %v", protocol, err)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		serveErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAllAdapters(adapters)
	cancel()

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer closeCancel()
	if err := s.registry.CloseAll(closeCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("closing storages: %w", err))
	}

	logger.Info("fsstore stopped")
	return serveErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// Adapters returns the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
