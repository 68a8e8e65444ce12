package files

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/keymap"
)

// Walk lazily yields the managed path of every regular file below prefix.
//
// prefix is a managed directory path ("" walks the whole root). Entries are
// yielded in lexical order per directory. The index directory and temporary
// files are skipped. With followLinks, symbolic links to files are yielded
// and symbolic links to directories are descended once per real directory;
// without it, links are ignored and a prefix that traverses a link yields
// nothing. A directory removed while walking is skipped.
//
// The walk stops when the consumer stops iterating or after the first
// yielded error.
func (s *FSFileStore) Walk(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dir := s.root
		if prefix != "" {
			full, err := s.resolve(prefix)
			if err != nil {
				yield("", err)
				return
			}
			if !s.followLinks {
				linked, err := s.ContainsSymlink(prefix)
				if err != nil {
					yield("", err)
					return
				}
				if linked {
					return
				}
			}
			dir = full
		}

		fi, err := s.stat(dir)
		if err != nil || !fi.IsDir() {
			return
		}

		w := &walker{
			store:   s,
			ctx:     ctx,
			yield:   yield,
			visited: make(map[string]bool),
		}
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			w.visited[real] = true
		}
		w.walkDir(dir, prefix)
	}
}

type walker struct {
	store   *FSFileStore
	ctx     context.Context
	yield   func(string, error) bool
	visited map[string]bool
}

// walkDir returns false once the walk must stop.
func (w *walker) walkDir(dir, rel string) bool {
	if err := w.ctx.Err(); err != nil {
		w.yield("", err)
		return false
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	if err != nil {
		w.yield("", fmt.Errorf("failed to read directory %s: %w", dir, err))
		return false
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == keymap.IndexDirName || strings.HasPrefix(name, keymap.TempFilePrefix) {
			continue
		}

		full := filepath.Join(dir, name)
		managed := name
		if rel != "" {
			managed = rel + "/" + name
		}

		mode := entry.Type()
		if mode&os.ModeSymlink != 0 {
			if !w.store.followLinks {
				continue
			}
			fi, err := os.Stat(full)
			if err != nil {
				logger.Debug("files: skipping dangling link %s: %v", full, err)
				continue
			}
			mode = fi.Mode().Type()
		}

		switch {
		case mode.IsDir():
			if w.store.followLinks {
				real, err := filepath.EvalSymlinks(full)
				if err != nil || w.visited[real] {
					continue
				}
				w.visited[real] = true
			}
			if !w.walkDir(full, managed) {
				return false
			}

		case mode.IsRegular():
			managed = strings.TrimSuffix(managed, keymap.ConflictSuffix)
			if !w.yield(managed, nil) {
				return false
			}
		}
	}
	return true
}
