// Package nats feeds NATS messages into the registered storages.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/internal/ratelimiter"
	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/metrics"
	"github.com/marmos91/fsstore/pkg/registry"
	"github.com/nats-io/nats.go"
)

// ErrNoStorage is replied when no storage serves a key.
var ErrNoStorage = errors.New("no storage matches key")

// NATSAdapter subscribes to the put, delete and query subjects under a
// prefix and dispatches them to the storages of a registry.
//
// Subjects:
//   - <prefix>.put: body is the value, headers carry key, encoding and
//     optional timestamp
//   - <prefix>.delete: headers carry key and optional timestamp
//   - <prefix>.query: body is a key pattern; every matching sample is
//     published to the reply subject, then an end-of-stream message
//
// Puts and deletes that carry a reply subject are acknowledged with an
// empty message, with HeaderError set on failure.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Connection drained (subscriptions stop, pending messages handled)
//  3. After ShutdownTimeout in-flight handlers are cancelled and the
//     connection closed
//
// Thread safety:
// All methods are safe for concurrent use. Messages of one subject are
// handled in arrival order.
type NATSAdapter struct {
	config   NATSConfig
	registry *registry.Registry
	metrics  metrics.AdapterMetrics
	limiter  *ratelimiter.RateLimiter

	connMu sync.Mutex
	conn   *nats.Conn

	// closed is closed once the connection is gone
	closed    chan struct{}
	closeOnce sync.Once

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// shutdownCtx is cancelled when draining times out, aborting queries
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	handled atomic.Int64
}

// NATSConfig configures the adapter.
//
// Default values (applied by New if zero):
//   - URL: nats://127.0.0.1:4222
//   - SubjectPrefix: fsstore
//   - ConnectTimeout: 5s
//   - ShutdownTimeout: 30s
type NATSConfig struct {
	URL           string
	SubjectPrefix string

	// QueueGroup spreads messages across instances when set
	QueueGroup string

	// MaxRequestsPerSecond throttles inbound messages (0 = unlimited)
	MaxRequestsPerSecond uint
	Burst                uint

	ConnectTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func (c *NATSConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "fsstore"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// New creates an adapter. SetRegistry must be called before Serve.
func New(config NATSConfig, m metrics.AdapterMetrics) *NATSAdapter {
	config.applyDefaults()
	if m == nil {
		m = metrics.NoopAdapterMetrics{}
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &NATSAdapter{
		config:         config,
		metrics:        m,
		limiter:        ratelimiter.New(config.MaxRequestsPerSecond, config.Burst),
		closed:         make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetRegistry injects the storages served by the adapter.
func (a *NATSAdapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
	logger.Debug("NATS adapter registry configured with %d storage(s)", reg.Count())
}

// Subject returns the full subject of a message kind.
func (a *NATSAdapter) Subject(kind string) string {
	return a.config.SubjectPrefix + "." + kind
}

// Serve connects, subscribes and blocks until ctx is cancelled or Stop is
// called.
func (a *NATSAdapter) Serve(ctx context.Context) error {
	if a.registry == nil {
		return fmt.Errorf("NATS adapter: registry not set")
	}

	conn, err := nats.Connect(a.config.URL,
		nats.Name("fsstore"),
		nats.Timeout(a.config.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			a.markClosed()
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.config.URL, err)
	}

	a.connMu.Lock()
	select {
	case <-a.shutdown:
		a.connMu.Unlock()
		conn.Close()
		return nil
	default:
	}
	a.conn = conn
	a.connMu.Unlock()

	handlers := map[string]nats.MsgHandler{
		kindPut:    a.handlePut,
		kindDelete: a.handleDelete,
		kindQuery:  a.handleQuery,
	}
	for kind, h := range handlers {
		subject := a.Subject(kind)
		if _, err := conn.QueueSubscribe(subject, a.config.QueueGroup, h); err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}

	logger.Info("NATS adapter serving %s.{put,delete,query} on %s (queue group %q)",
		a.config.SubjectPrefix, a.config.URL, a.config.QueueGroup)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("NATS shutdown signal received: %v", ctx.Err())
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	<-a.shutdown
	return a.waitClosed(a.config.ShutdownTimeout)
}

// initiateShutdown starts draining the connection. Safe to call many times.
func (a *NATSAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("NATS shutdown initiated")
		close(a.shutdown)

		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()

		if conn == nil {
			a.markClosed()
			return
		}
		if err := conn.Drain(); err != nil {
			logger.Debug("NATS drain failed, closing: %v", err)
			conn.Close()
		}
	})
}

func (a *NATSAdapter) markClosed() {
	a.closeOnce.Do(func() { close(a.closed) })
}

// waitClosed waits for the drain to finish, then forces the connection
// closed.
func (a *NATSAdapter) waitClosed(timeout time.Duration) error {
	select {
	case <-a.closed:
		logger.Info("NATS adapter stopped after handling %d message(s)", a.handled.Load())
		return nil
	case <-time.After(timeout):
	}

	logger.Warn("NATS drain timeout exceeded after %v - cancelling in-flight handlers", timeout)
	a.cancelRequests()

	a.connMu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.connMu.Unlock()

	return fmt.Errorf("NATS shutdown timeout: in-flight handlers cancelled")
}

// Stop drains the connection, waiting until ctx is done.
func (a *NATSAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	select {
	case <-a.closed:
		return nil
	case <-ctx.Done():
		a.cancelRequests()
		return ctx.Err()
	}
}

// Protocol returns "NATS".
func (a *NATSAdapter) Protocol() string {
	return "NATS"
}

// Handled returns the number of messages processed so far.
func (a *NATSAdapter) Handled() int64 {
	return a.handled.Load()
}

// admit applies the rate limiter to one message.
func (a *NATSAdapter) admit() error {
	if a.limiter.Allow() {
		return nil
	}
	a.metrics.RecordThrottled()
	return a.limiter.Wait(a.shutdownCtx)
}

func (a *NATSAdapter) handlePut(msg *nats.Msg) {
	err := a.handleUpdate(msg, kindPut)
	a.reply(msg, ackMsg(msg.Reply, err))
}

func (a *NATSAdapter) handleDelete(msg *nats.Msg) {
	err := a.handleUpdate(msg, kindDelete)
	a.reply(msg, ackMsg(msg.Reply, err))
}

// handleUpdate applies a put or delete to every storage serving its key.
func (a *NATSAdapter) handleUpdate(msg *nats.Msg, kind string) (err error) {
	a.handled.Add(1)
	defer func() { a.metrics.RecordMessage(kind, err) }()

	if err := a.admit(); err != nil {
		return err
	}

	ev, err := decodeEvent(msg)
	if err != nil {
		logger.Debug("NATS %s on %s rejected: %v", kind, msg.Subject, err)
		return err
	}

	entries := a.registry.Route(ev.Key)
	if len(entries) == 0 {
		logger.Debug("NATS %s %s: %v", kind, ev.Key, ErrNoStorage)
		return fmt.Errorf("%w: %s", ErrNoStorage, ev.Key)
	}

	var errs []error
	for _, e := range entries {
		var serr error
		if kind == kindPut {
			serr = e.Storage.Put(a.shutdownCtx, ev.Key, ev.Payload, ev.Encoding, ev.Timestamp)
		} else {
			serr = e.Storage.Delete(a.shutdownCtx, ev.Key, ev.Timestamp)
		}
		if serr != nil {
			logger.Warn("NATS %s %s on storage %q failed: %v", kind, ev.Key, e.Name, serr)
			errs = append(errs, serr)
		}
	}
	return errors.Join(errs...)
}

// handleQuery streams every matching sample to the reply subject.
func (a *NATSAdapter) handleQuery(msg *nats.Msg) {
	var err error
	a.handled.Add(1)
	defer func() { a.metrics.RecordMessage(kindQuery, err) }()

	if msg.Reply == "" {
		logger.Debug("NATS query on %s without reply subject ignored", msg.Subject)
		return
	}

	err = a.streamQuery(msg)
	a.reply(msg, eosMsg(msg.Reply, err))
}

func (a *NATSAdapter) streamQuery(msg *nats.Msg) error {
	if err := a.admit(); err != nil {
		return err
	}

	pattern, err := decodeQuery(msg)
	if err != nil {
		return err
	}

	sent := 0
	for _, e := range a.registry.RouteQuery(pattern) {
		for sample, err := range e.Storage.Get(a.shutdownCtx, pattern) {
			if err != nil {
				logger.Warn("NATS query %s on storage %q failed: %v", pattern, e.Name, err)
				return err
			}
			if !keymap.Match(e.KeyExpr, sample.Key) {
				continue
			}
			if err := msg.RespondMsg(encodeSample(msg.Reply, sample)); err != nil {
				return fmt.Errorf("failed to publish sample %s: %w", sample.Key, err)
			}
			sent++
		}
	}

	logger.Debug("NATS query %s answered with %d sample(s)", pattern, sent)
	return nil
}

// reply publishes resp when msg expects an answer.
func (a *NATSAdapter) reply(msg *nats.Msg, resp *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	if err := msg.RespondMsg(resp); err != nil {
		logger.Debug("NATS reply to %s failed: %v", msg.Reply, err)
	}
}
