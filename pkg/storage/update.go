package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/store/files"
	"github.com/marmos91/fsstore/pkg/store/index"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// Put stores payload under key unless a newer update is already recorded.
//
// A put whose timestamp is not strictly newer than the stored one is
// discarded and reported as success. A zero ts is replaced with a reception
// timestamp from the storage clock.
//
// Ordering:
// The file is replaced before the index record. If the index write fails
// afterwards the error wraps ErrInconsistent; the next accepted update of
// the same path repairs it.
//
// Returns:
//   - error: ErrInvalidKey, ErrPrefixMismatch, ErrReadOnly, ErrClosed,
//     ErrFileIO, ErrIndexIO (with ErrInconsistent when the file was written)
func (s *Storage) Put(ctx context.Context, key string, payload []byte, encoding string, ts timestamp.Timestamp) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("put", time.Since(start), err) }()

	path, err := s.mutationPath(key)
	if err != nil {
		return opError("put", key, err)
	}

	release, err := s.begin()
	if err != nil {
		return opError("put", key, err)
	}
	defer release()

	ts = s.stamp(ts)

	unlock := s.locks.Lock(path)
	defer unlock()

	stale, _, err := s.isStale(ctx, path, ts)
	if err != nil {
		return opError("put", key, err)
	}
	if stale {
		s.metrics.RecordStaleDrop("put")
		logger.Debug("[%s] Dropping stale put %s at %s", s.config.Name, key, ts)
		return nil
	}

	if err := s.files.Write(ctx, path, payload); err != nil {
		return opError("put", key, fileIOError(err))
	}

	rec := index.Record{Timestamp: ts, Encoding: encoding}
	if err := s.index.Upsert(ctx, path, rec); err != nil {
		logger.Error("[%s] File %s written but index update failed: %v", s.config.Name, path, err)
		return opError("put", key, fmt.Errorf("%w: %w", ErrInconsistent, err))
	}

	logger.Debug("[%s] Put %s (%d bytes, %s) at %s", s.config.Name, key, len(payload), encoding, ts)
	return nil
}

// Delete removes the value under key and leaves a tombstone, unless a newer
// update is already recorded.
//
// The tombstone is written even when nothing was stored, so a late put with
// an older timestamp is still rejected. Empty parent directories left by
// the removal are pruned.
func (s *Storage) Delete(ctx context.Context, key string, ts timestamp.Timestamp) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("delete", time.Since(start), err) }()

	path, err := s.mutationPath(key)
	if err != nil {
		return opError("delete", key, err)
	}

	release, err := s.begin()
	if err != nil {
		return opError("delete", key, err)
	}
	defer release()

	ts = s.stamp(ts)

	unlock := s.locks.Lock(path)
	defer unlock()

	stale, prev, err := s.isStale(ctx, path, ts)
	if err != nil {
		return opError("delete", key, err)
	}
	if stale {
		s.metrics.RecordStaleDrop("delete")
		logger.Debug("[%s] Dropping stale delete %s at %s", s.config.Name, key, ts)
		return nil
	}

	if err := s.files.Remove(ctx, path); err != nil {
		return opError("delete", key, fileIOError(err))
	}

	rec := index.Record{Timestamp: ts, Deleted: true}
	if prev != nil {
		rec.Encoding = prev.Encoding
	}
	if err := s.index.Upsert(ctx, path, rec); err != nil {
		logger.Error("[%s] File %s removed but tombstone write failed: %v", s.config.Name, path, err)
		return opError("delete", key, fmt.Errorf("%w: %w", ErrInconsistent, err))
	}

	logger.Debug("[%s] Delete %s at %s", s.config.Name, key, ts)
	return nil
}

// mutationPath maps key and rejects writes on read-only storages.
func (s *Storage) mutationPath(key string) (string, error) {
	path, err := keymap.ToPath(key, s.config.StripPrefix)
	if err != nil {
		return "", err
	}
	if s.config.ReadOnly {
		return "", ErrReadOnly
	}
	return path, nil
}

// stamp gives timestamp-less updates a reception timestamp and keeps the
// clock ahead of every timestamp seen.
func (s *Storage) stamp(ts timestamp.Timestamp) timestamp.Timestamp {
	if ts.IsZero() {
		return s.clock.Now()
	}
	s.clock.Observe(ts)
	return ts
}

// isStale reports whether an update at ts must be discarded.
//
// The stored record decides when there is one. Otherwise a foreign file's
// modification time stands in for its timestamp. Equal timestamps are
// stale: redelivery of the same update is a no-op.
//
// Must be called with the path's write lock held.
func (s *Storage) isStale(ctx context.Context, path string, ts timestamp.Timestamp) (bool, *index.Record, error) {
	rec, found, err := s.index.Lookup(ctx, path)
	if err != nil {
		return false, nil, err
	}
	if found {
		return !rec.Timestamp.Before(ts), &rec, nil
	}

	info, err := s.files.Stat(ctx, path)
	if errors.Is(err, files.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fileIOError(err)
	}
	return !timestamp.FromTime(info.ModTime).Before(ts), nil, nil
}
