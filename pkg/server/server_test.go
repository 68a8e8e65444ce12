package server

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/fsstore/pkg/registry"
	"github.com/marmos91/fsstore/pkg/storage"
	"github.com/marmos91/fsstore/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	protocol string
	failWith error
	reg      *registry.Registry
	stopped  atomic.Bool
	stopCh   chan struct{}
}

func newFakeAdapter(protocol string) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, stopCh: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopCh:
		return nil
	}
}

func (f *fakeAdapter) SetRegistry(reg *registry.Registry) { f.reg = reg }

func (f *fakeAdapter) Stop(context.Context) error {
	if f.stopped.CompareAndSwap(false, true) {
		close(f.stopCh)
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }

func newRegistry(t *testing.T) (*registry.Registry, *storage.Storage) {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{
		Name:      "s",
		Dir:       filepath.Join(t.TempDir(), "s"),
		IndexType: storage.IndexMemory,
	})
	require.NoError(t, err)

	reg := registry.NewRegistry()
	require.NoError(t, reg.Add("s", "**", s))
	return reg, s
}

func TestAddAdapter(t *testing.T) {
	reg, _ := newRegistry(t)
	defer func() { _ = reg.CloseAll(context.Background()) }()
	srv := New(reg, Config{})

	a := newFakeAdapter("FAKE")
	require.NoError(t, srv.AddAdapter(a))
	assert.Same(t, reg, a.reg)

	assert.Error(t, srv.AddAdapter(newFakeAdapter("FAKE")))
	assert.Error(t, srv.AddAdapter(nil))
	assert.Len(t, srv.Adapters(), 1)
}

func TestServeWithoutAdapters(t *testing.T) {
	reg, _ := newRegistry(t)
	defer func() { _ = reg.CloseAll(context.Background()) }()

	assert.Error(t, New(reg, Config{}).Serve(context.Background()))
}

func TestServeStopsOnCancel(t *testing.T) {
	reg, s := newRegistry(t)
	srv := New(reg, Config{ShutdownTimeout: time.Second})
	a := newFakeAdapter("FAKE")
	require.NoError(t, srv.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.True(t, a.stopped.Load())
	assert.Zero(t, reg.Count())
	assert.ErrorIs(t, s.Delete(context.Background(), "k", timestamp.Timestamp{}), storage.ErrClosed)

	assert.Error(t, srv.Serve(context.Background()), "second Serve")
	assert.Error(t, srv.AddAdapter(newFakeAdapter("OTHER")))
}

func TestServeStopsOnAdapterFailure(t *testing.T) {
	reg, _ := newRegistry(t)
	srv := New(reg, Config{ShutdownTimeout: time.Second})

	healthy := newFakeAdapter("HEALTHY")
	broken := newFakeAdapter("BROKEN")
	broken.failWith = errors.New("boom")
	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN")
	assert.True(t, healthy.stopped.Load())
	assert.Zero(t, reg.Count())
}
