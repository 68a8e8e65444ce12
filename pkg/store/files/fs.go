// Package files implements the file store of a storage: a mirrored tree of
// regular files below a root directory, one file per live managed path.
package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/fsstore/pkg/keymap"
)

var (
	// ErrNotFound is returned when no regular file backs a managed path.
	ErrNotFound = errors.New("file not found")

	// ErrOutsideRoot is returned when a path would resolve outside the root.
	ErrOutsideRoot = errors.New("path resolves outside the storage root")

	// ErrSymlink is returned when a write would traverse a symbolic link
	// and the store does not follow links.
	ErrSymlink = errors.New("path traverses a symbolic link")
)

// FSFileStore stores managed paths as regular files below root.
//
// File/directory conflicts:
// A managed path can be both a file ("a") and the parent of another file
// ("a/b"). The file is then kept at "a" + keymap.ConflictSuffix, and every
// operation resolves the suffixed name back to the managed path.
//
// Thread Safety:
// Individual operations are safe to call concurrently, but two writers on
// the same managed path race on the rename. Callers serialize per path.
type FSFileStore struct {
	root        string
	followLinks bool
}

// FileInfo describes the regular file backing a managed path.
type FileInfo struct {
	// PhysicalPath is the absolute host path of the file.
	PhysicalPath string

	Size    int64
	ModTime time.Time
}

// NewFSFileStore creates a file store rooted at root.
//
// Context Cancellation:
// This operation checks the context before touching the filesystem.
//
// Parameters:
//   - ctx: Context for cancellation
//   - root: Root directory, created with 0755 if absent
//   - followLinks: Whether symbolic links below root are followed
//
// Returns:
//   - *FSFileStore: Initialized store
//   - error: If root cannot be created or is not a directory
func NewFSFileStore(ctx context.Context, root string, followLinks bool) (*FSFileStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Normalize and create the root
	// ========================================================================

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	return &FSFileStore{root: abs, followLinks: followLinks}, nil
}

// Root returns the absolute root directory.
func (s *FSFileStore) Root() string {
	return s.root
}

// FollowLinks reports whether symbolic links are followed.
func (s *FSFileStore) FollowLinks() bool {
	return s.followLinks
}

// resolve validates path and joins it to the root.
//
// This is the last containment check before any filesystem call, even
// though callers are expected to validate keys already.
func (s *FSFileStore) resolve(path string) (string, error) {
	if err := keymap.Validate(path); err != nil {
		return "", err
	}

	full := filepath.Join(s.root, keymap.ToFSPath(path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return full, nil
}

// ContainsSymlink reports whether any component of path below the root,
// including the last one, is a symbolic link. Missing components end the
// check.
func (s *FSFileStore) ContainsSymlink(path string) (bool, error) {
	if path == "" {
		return false, nil
	}

	current := s.root
	for _, seg := range strings.Split(path, "/") {
		current = filepath.Join(current, seg)
		fi, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) || isNotDir(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return true, nil
		}
	}
	return false, nil
}

// stat follows links only when the store is configured to.
func (s *FSFileStore) stat(name string) (os.FileInfo, error) {
	if s.followLinks {
		return os.Stat(name)
	}
	return os.Lstat(name)
}

// locate finds the regular file backing path, trying the plain name first
// and the conflict-suffixed name second.
func (s *FSFileStore) locate(path string) (string, os.FileInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", nil, err
	}

	if !s.followLinks {
		linked, err := s.ContainsSymlink(path)
		if err != nil {
			return "", nil, err
		}
		if linked {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	for _, candidate := range []string{full, full + keymap.ConflictSuffix} {
		fi, err := s.stat(candidate)
		if err == nil && fi.Mode().IsRegular() {
			return candidate, fi, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) && !isNotDir(err) {
			return "", nil, err
		}
	}

	return "", nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// isNotDir matches ENOTDIR, returned when a path component is a file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
