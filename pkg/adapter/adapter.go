package adapter

import (
	"context"

	"github.com/marmos91/fsstore/pkg/registry"
)

// Adapter represents a transport that feeds bus events into the registered
// storages and answers queries from them.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Registry injection: SetRegistry() provides the live storages
//  3. Startup: Serve() subscribes and blocks until shutdown
//  4. Shutdown: Stop() drains in-flight messages with a timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetRegistry() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetRegistry injects the registry holding every live storage.
	//
	// Called exactly once before Serve().
	SetRegistry(reg *registry.Registry)

	// Stop initiates graceful shutdown.
	//
	// Must be idempotent and safe to call concurrently with Serve().
	// When ctx is cancelled, remaining work is abandoned.
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logging and metrics.
	Protocol() string
}
