package gc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fsstore/pkg/store/index"
	"github.com/marmos91/fsstore/pkg/store/index/memory"
	"github.com/marmos91/fsstore/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFiles struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (f *fakeFiles) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[path], nil
}

type mutexLocker struct {
	mu sync.Mutex
}

func (l *mutexLocker) Lock(string) func() {
	l.mu.Lock()
	return l.mu.Unlock
}

var writer = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

func setup(t *testing.T, now time.Time, files map[string]bool) (*Collector, index.Index) {
	t.Helper()
	idx := memory.New()
	t.Cleanup(func() { _ = idx.Close() })

	c := NewCollector("test", idx, &fakeFiles{paths: files}, &mutexLocker{},
		Config{Retention: 5 * time.Second}, nil)
	c.now = func() time.Time { return now }
	return c, idx
}

func upsert(t *testing.T, idx index.Index, path string, at time.Time, deleted bool) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), path, index.Record{
		Timestamp: timestamp.New(at, writer),
		Deleted:   deleted,
	}))
}

func TestCollectReclaimsOnlyExpiredTombstones(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c, idx := setup(t, now, map[string]bool{"live": true})

	upsert(t, idx, "old", now.Add(-time.Minute), true)
	upsert(t, idx, "fresh", now.Add(-time.Second), true)
	upsert(t, idx, "live", now.Add(-time.Hour), false)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.Tombstones)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.Equal(t, 0, stats.Orphans)

	_, found, err := idx.Lookup(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = idx.Lookup(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = idx.Lookup(ctx, "live")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCollectSkipsTombstoneWithFile(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c, idx := setup(t, now, map[string]bool{"haunted": true})

	upsert(t, idx, "haunted", now.Add(-time.Minute), true)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Anomalies)
	assert.Equal(t, 0, stats.Reclaimed)

	_, found, err := idx.Lookup(ctx, "haunted")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCollectReportsOrphansWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c, idx := setup(t, now, nil)

	upsert(t, idx, "lost", now.Add(-time.Hour), false)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphans)

	_, found, err := idx.Lookup(ctx, "lost")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCollectDryRun(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c, idx := setup(t, now, nil)
	c.config.DryRun = true

	upsert(t, idx, "old", now.Add(-time.Minute), true)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.Reclaimed)

	_, found, err := idx.Lookup(ctx, "old")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStartStop(t *testing.T) {
	idx := memory.New()
	c := NewCollector("test", idx, &fakeFiles{}, &mutexLocker{},
		Config{Enabled: true, Interval: 10 * time.Millisecond}, nil)

	c.Start()
	c.Start()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestStopWithoutStart(t *testing.T) {
	c := NewCollector("test", memory.New(), &fakeFiles{}, &mutexLocker{}, Config{}, nil)
	assert.Equal(t, DefaultInterval, c.config.Interval)
	assert.Equal(t, DefaultRetention, c.config.Retention)
	assert.NoError(t, c.Stop(context.Background()))
}

// rewritingLocker replaces the record of a path right before handing out its
// lock, like a put that wins the race against the collector.
type rewritingLocker struct {
	idx  index.Index
	recs map[string]index.Record
}

func (l *rewritingLocker) Lock(path string) func() {
	if rec, ok := l.recs[path]; ok {
		_ = l.idx.Upsert(context.Background(), path, rec)
	}
	return func() {}
}

func TestCollectSkipsSupersededTombstone(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		rec  index.Record
	}{
		{"live put", index.Record{Timestamp: timestamp.New(now, writer), Encoding: "text/plain"}},
		{"newer delete", index.Record{Timestamp: timestamp.New(now, writer), Deleted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := memory.New()
			t.Cleanup(func() { _ = idx.Close() })

			locker := &rewritingLocker{idx: idx, recs: map[string]index.Record{"k": tt.rec}}
			c := NewCollector("test", idx, &fakeFiles{}, locker, Config{Retention: 5 * time.Second}, nil)
			c.now = func() time.Time { return now }

			upsert(t, idx, "k", now.Add(-time.Minute), true)

			stats, err := c.RunNow(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Expired)
			assert.Equal(t, 1, stats.Superseded)
			assert.Equal(t, 0, stats.Reclaimed)

			rec, found, err := idx.Lookup(ctx, "k")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.rec, rec)
		})
	}
}
