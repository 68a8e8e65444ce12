// Package memory provides a volatile index.Index for tests and ephemeral
// storages. Records are lost when the process exits.
package memory

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/fsstore/pkg/store/index"
)

// MemoryIndex is a mutex-guarded map of records.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]index.Record
	closed  bool
}

// New creates an empty in-memory index.
func New() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]index.Record)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, path string, rec index.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return index.ErrClosed
	}
	m.records[path] = rec
	return nil
}

func (m *MemoryIndex) Lookup(ctx context.Context, path string) (index.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return index.Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return index.Record{}, false, index.ErrClosed
	}
	rec, ok := m.records[path]
	return rec, ok, nil
}

// ScanPrefix copies matching entries under the read lock, then yields the
// sorted copy with no lock held so consumers may call back into the index.
func (m *MemoryIndex) ScanPrefix(ctx context.Context, prefix string) iter.Seq2[index.Entry, error] {
	return func(yield func(index.Entry, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(index.Entry{}, err)
			return
		}

		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield(index.Entry{}, index.ErrClosed)
			return
		}
		snapshot := make([]index.Entry, 0)
		for p, rec := range m.records {
			if strings.HasPrefix(p, prefix) {
				snapshot = append(snapshot, index.Entry{Path: p, Record: rec})
			}
		}
		m.mu.RUnlock()

		slices.SortFunc(snapshot, func(a, b index.Entry) int {
			return strings.Compare(a.Path, b.Path)
		})

		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(index.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *MemoryIndex) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return index.ErrClosed
	}
	delete(m.records, path)
	return nil
}

func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
