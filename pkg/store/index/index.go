// Package index defines the metadata index of a storage: one record per
// managed path carrying the last accepted timestamp, the payload encoding
// and the tombstone flag.
package index

import (
	"context"
	"errors"
	"iter"

	"github.com/marmos91/fsstore/pkg/timestamp"
)

var (
	// ErrIndexIO wraps every failure of the underlying database.
	ErrIndexIO = errors.New("index I/O error")

	// ErrAlreadyOpen is returned when another engine holds the index directory.
	ErrAlreadyOpen = errors.New("index already open")

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index closed")
)

// Record is the metadata kept for a managed path.
type Record struct {
	Timestamp timestamp.Timestamp
	Encoding  string
	Deleted   bool
}

// Entry pairs a record with its managed path during scans.
type Entry struct {
	Path   string
	Record Record
}

// Index is a durable map from managed path to Record.
//
// Implementations never compare timestamps: staleness is decided by the
// storage engine while it holds the per-path lock. Upsert replaces the
// whole record atomically. No method retries on failure.
type Index interface {
	// Upsert stores rec for path, replacing any previous record.
	Upsert(ctx context.Context, path string, rec Record) error

	// Lookup returns the record for path and whether one exists.
	Lookup(ctx context.Context, path string) (Record, bool, error)

	// ScanPrefix yields every record whose path starts with prefix in
	// lexicographic path order. Each call iterates its own snapshot. An error
	// is yielded at most once and ends the sequence.
	ScanPrefix(ctx context.Context, prefix string) iter.Seq2[Entry, error]

	// Delete removes the record for path. Only reclamation calls it.
	Delete(ctx context.Context, path string) error

	// Close releases the index. Further calls fail with ErrClosed.
	Close() error
}
