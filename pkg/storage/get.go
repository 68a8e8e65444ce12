package storage

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/store/files"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// Get lazily yields every stored sample whose key matches pattern.
//
// A pattern without wildcards is a point lookup. A wildcard pattern walks
// the directory named by its literal prefix (or the whole root) and filters
// keys with the storage's Matcher. For each file:
//   - a live record supplies encoding and timestamp
//   - a tombstone hides the file
//   - no record (a foreign file) gets an encoding inferred from its name
//     and its modification time as timestamp; nothing is written back
//
// Keys outside the storage's prefix match nothing. The sequence ends after
// the first yielded error.
//
// The storage is only locked while a sample is read, not while the consumer
// handles it: the loop body may call Put, Delete or Close. After Close the
// sequence ends with ErrClosed.
func (s *Storage) Get(ctx context.Context, pattern string) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		var err error
		start := time.Now()
		defer func() { s.metrics.RecordOperation("get", time.Since(start), err) }()

		release, err := s.begin()
		if err != nil {
			yield(Sample{}, opError("get", pattern, err))
			return
		}
		release()

		if !keymap.HasWildcard(pattern) {
			err = s.getOne(ctx, pattern, yield)
			return
		}
		err = s.getMany(ctx, pattern, yield)
	}
}

func (s *Storage) getOne(ctx context.Context, key string, yield func(Sample, error) bool) error {
	path, err := keymap.ToPath(key, s.config.StripPrefix)
	if errors.Is(err, keymap.ErrPrefixMismatch) {
		return nil
	}
	if err != nil {
		err = opError("get", key, err)
		yield(Sample{}, err)
		return err
	}

	sample, ok, err := s.readSample(ctx, path)
	if err != nil {
		err = opError("get", key, err)
		yield(Sample{}, err)
		return err
	}
	if ok {
		yield(sample, nil)
	}
	return nil
}

func (s *Storage) getMany(ctx context.Context, pattern string, yield func(Sample, error) bool) error {
	walkPrefix, overlaps := s.walkPrefix(pattern)
	if !overlaps {
		return nil
	}

	// A pattern like "a/**" also matches "a" itself, whose value is a file
	// beside the walked directory.
	if walkPrefix != "" && s.matcher(pattern, keymap.ToKey(walkPrefix, s.config.StripPrefix)) {
		sample, ok, err := s.readSample(ctx, walkPrefix)
		if err != nil {
			err = opError("get", pattern, err)
			yield(Sample{}, err)
			return err
		}
		if ok && !yield(sample, nil) {
			return nil
		}
	}

	for path, err := range s.files.Walk(ctx, walkPrefix) {
		if err != nil {
			err = opError("get", pattern, fileIOError(err))
			yield(Sample{}, err)
			return err
		}

		if !s.matcher(pattern, keymap.ToKey(path, s.config.StripPrefix)) {
			continue
		}

		sample, ok, err := s.readSample(ctx, path)
		if err != nil {
			err = opError("get", pattern, err)
			yield(Sample{}, err)
			return err
		}
		if !ok {
			continue
		}
		if !yield(sample, nil) {
			return nil
		}
	}
	return nil
}

// walkPrefix picks the managed directory to walk for pattern. overlaps is
// false when no key under the storage prefix can match.
func (s *Storage) walkPrefix(pattern string) (string, bool) {
	prefix := s.config.StripPrefix
	literal := keymap.LiteralPrefix(pattern)

	switch {
	case strings.HasPrefix(literal, prefix):
		rel := literal[len(prefix):]
		if rel == "" {
			return "", true
		}
		if keymap.Validate(rel) != nil {
			return "", false
		}
		return rel, true

	case strings.HasPrefix(prefix, literal):
		// The pattern's fixed part ends inside the prefix: only the
		// matcher can tell, walk everything.
		return "", true
	}
	return "", false
}

// readSample reads the file and record of path as one consistent pair.
// ok is false when the path has no visible value.
func (s *Storage) readSample(ctx context.Context, path string) (Sample, bool, error) {
	release, err := s.begin()
	if err != nil {
		return Sample{}, false, err
	}
	defer release()

	unlock := s.locks.RLock(path)
	defer unlock()

	key := keymap.ToKey(path, s.config.StripPrefix)

	rec, found, err := s.index.Lookup(ctx, path)
	if err != nil {
		return Sample{}, false, err
	}
	if found && rec.Deleted {
		return Sample{}, false, nil
	}

	data, err := s.files.ReadAll(ctx, path)
	if errors.Is(err, files.ErrNotFound) {
		if found {
			logger.Warn("[%s] Record for %s has no backing file", s.config.Name, path)
		}
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fileIOError(err)
	}

	if found {
		return Sample{Key: key, Payload: data, Encoding: rec.Encoding, Timestamp: rec.Timestamp}, true, nil
	}

	info, err := s.files.Stat(ctx, path)
	if errors.Is(err, files.ErrNotFound) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fileIOError(err)
	}

	s.metrics.RecordForeignFile()
	return Sample{
		Key:       key,
		Payload:   data,
		Encoding:  inferEncoding(path, info.PhysicalPath, s.config.KeepMimeTypes),
		Timestamp: timestamp.FromTime(info.ModTime),
	}, true, nil
}
