package testing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/fsstore/pkg/store/index"
	"github.com/marmos91/fsstore/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IndexTestSuite checks the index.Index contract, independent of the
// backing database.
//
// Usage:
//
//	func TestMyIndex(t *testing.T) {
//	    suite := &testing.IndexTestSuite{
//	        NewIndex: func(t *testing.T) index.Index {
//	            return myindex.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type IndexTestSuite struct {
	// NewIndex creates a fresh, empty index for each test.
	NewIndex func(t *testing.T) index.Index
}

// Run executes all tests in the suite.
func (suite *IndexTestSuite) Run(t *testing.T) {
	t.Run("Lookup_NotFound", suite.testLookupNotFound)
	t.Run("Upsert_Lookup", suite.testUpsertLookup)
	t.Run("Upsert_Replaces", suite.testUpsertReplaces)
	t.Run("Upsert_Tombstone", suite.testUpsertTombstone)
	t.Run("ScanPrefix_Order", suite.testScanPrefixOrder)
	t.Run("ScanPrefix_Subtree", suite.testScanPrefixSubtree)
	t.Run("ScanPrefix_EarlyStop", suite.testScanPrefixEarlyStop)
	t.Run("ScanPrefix_DeleteWhileScanning", suite.testScanDeleteWhileScanning)
	t.Run("Delete", suite.testDelete)
	t.Run("Closed", suite.testClosed)
}

func testContext() context.Context {
	return context.Background()
}

func newIndex(t *testing.T, suite *IndexTestSuite) index.Index {
	t.Helper()
	idx := suite.NewIndex(t)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func record(seconds int64, encoding string, deleted bool) index.Record {
	return index.Record{
		Timestamp: timestamp.New(time.Unix(seconds, 0), uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")),
		Encoding:  encoding,
		Deleted:   deleted,
	}
}

func collect(t *testing.T, idx index.Index, prefix string) []index.Entry {
	t.Helper()
	var out []index.Entry
	for e, err := range idx.ScanPrefix(testContext(), prefix) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func paths(entries []index.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func (suite *IndexTestSuite) testLookupNotFound(t *testing.T) {
	idx := newIndex(t, suite)

	_, found, err := idx.Lookup(testContext(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func (suite *IndexTestSuite) testUpsertLookup(t *testing.T) {
	idx := newIndex(t, suite)
	rec := record(1700000000, "text/plain", false)

	require.NoError(t, idx.Upsert(testContext(), "a/b.txt", rec))

	got, found, err := idx.Lookup(testContext(), "a/b.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func (suite *IndexTestSuite) testUpsertReplaces(t *testing.T) {
	idx := newIndex(t, suite)

	require.NoError(t, idx.Upsert(testContext(), "k", record(200, "application/json", false)))
	// Index does not compare timestamps: an older record still replaces.
	older := record(100, "text/plain", false)
	require.NoError(t, idx.Upsert(testContext(), "k", older))

	got, found, err := idx.Lookup(testContext(), "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, older, got)
}

func (suite *IndexTestSuite) testUpsertTombstone(t *testing.T) {
	idx := newIndex(t, suite)
	tomb := record(300, "", true)

	require.NoError(t, idx.Upsert(testContext(), "gone", tomb))

	got, found, err := idx.Lookup(testContext(), "gone")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Deleted)
	assert.Equal(t, tomb.Timestamp, got.Timestamp)
}

func (suite *IndexTestSuite) testScanPrefixOrder(t *testing.T) {
	idx := newIndex(t, suite)
	for _, p := range []string{"c", "a/2", "b", "a/1"} {
		require.NoError(t, idx.Upsert(testContext(), p, record(1, "", false)))
	}

	assert.Equal(t, []string{"a/1", "a/2", "b", "c"}, paths(collect(t, idx, "")))
}

func (suite *IndexTestSuite) testScanPrefixSubtree(t *testing.T) {
	idx := newIndex(t, suite)
	for _, p := range []string{"dir/x", "dir/y/z", "dirt", "other"} {
		require.NoError(t, idx.Upsert(testContext(), p, record(1, "", false)))
	}

	assert.Equal(t, []string{"dir/x", "dir/y/z"}, paths(collect(t, idx, "dir/")))
	assert.Empty(t, collect(t, idx, "nothing/"))
}

func (suite *IndexTestSuite) testScanPrefixEarlyStop(t *testing.T) {
	idx := newIndex(t, suite)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Upsert(testContext(), p, record(1, "", false)))
	}

	n := 0
	for _, err := range idx.ScanPrefix(testContext(), "") {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	// The index stays usable after an abandoned scan.
	_, found, err := idx.Lookup(testContext(), "c")
	require.NoError(t, err)
	assert.True(t, found)
}

func (suite *IndexTestSuite) testScanDeleteWhileScanning(t *testing.T) {
	idx := newIndex(t, suite)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Upsert(testContext(), p, record(1, "", true)))
	}

	var seen []string
	for e, err := range idx.ScanPrefix(testContext(), "") {
		require.NoError(t, err)
		seen = append(seen, e.Path)
		require.NoError(t, idx.Delete(testContext(), e.Path))
	}

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Empty(t, collect(t, idx, ""))
}

func (suite *IndexTestSuite) testDelete(t *testing.T) {
	idx := newIndex(t, suite)
	require.NoError(t, idx.Upsert(testContext(), "k", record(1, "", true)))

	require.NoError(t, idx.Delete(testContext(), "k"))
	_, found, err := idx.Lookup(testContext(), "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing record is not an error.
	require.NoError(t, idx.Delete(testContext(), "k"))
}

func (suite *IndexTestSuite) testClosed(t *testing.T) {
	idx := suite.NewIndex(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, _, err := idx.Lookup(testContext(), "k")
	assert.ErrorIs(t, err, index.ErrClosed)
	assert.ErrorIs(t, idx.Upsert(testContext(), "k", record(1, "", false)), index.ErrClosed)
}
