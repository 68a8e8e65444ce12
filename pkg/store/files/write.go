package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/fsstore/pkg/keymap"
)

// Write atomically replaces the content of path with data.
//
// Parent directories are created as needed. The bytes are written to a
// temporary file in the target directory, synced and renamed over the
// target, so readers observe either the old or the new content.
//
// Parameters:
//   - ctx: Context for cancellation
//   - path: Managed path
//   - data: Full new content
//
// Returns:
//   - error: keymap.ErrInvalidKey, ErrOutsideRoot, ErrSymlink or the
//     underlying filesystem error
func (s *FSFileStore) Write(ctx context.Context, path string, data []byte) error {
	// ========================================================================
	// Step 1: Validate and resolve
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if !s.followLinks {
		linked, err := s.ContainsSymlink(path)
		if err != nil {
			return err
		}
		if linked {
			return fmt.Errorf("%w: %s", ErrSymlink, path)
		}
	}

	// ========================================================================
	// Step 2: Move files that block the directory chain out of the way
	// ========================================================================

	if err := s.relocateBlockingFiles(path); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", path, err)
	}

	// ========================================================================
	// Step 3: Pick the physical target
	// ========================================================================

	target := full
	if fi, err := s.stat(full); err == nil && fi.IsDir() {
		target = full + keymap.ConflictSuffix
	} else if err := removeIfRegular(full + keymap.ConflictSuffix); err != nil {
		return err
	}

	// ========================================================================
	// Step 4: Write through a temporary file and rename
	// ========================================================================

	return atomicWrite(target, data)
}

// relocateBlockingFiles renames every ancestor of path that is a regular
// file to its conflict-suffixed name, so the ancestor can become a directory.
func (s *FSFileStore) relocateBlockingFiles(path string) error {
	segs := strings.Split(path, "/")
	current := s.root

	for _, seg := range segs[:len(segs)-1] {
		current = filepath.Join(current, seg)
		fi, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			if err := os.Rename(current, current+keymap.ConflictSuffix); err != nil {
				return fmt.Errorf("failed to relocate conflicting file %s: %w", current, err)
			}
		}
	}
	return nil
}

func atomicWrite(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), keymap.TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", target, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename into %s: %w", target, err)
	}
	return nil
}

// Remove deletes the file backing path and prunes directories left empty.
// A missing file is not an error.
func (s *FSFileStore) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if !s.followLinks {
		linked, err := s.ContainsSymlink(path)
		if err != nil {
			return err
		}
		if linked {
			// Not ours: the path is absent from the store's point of view.
			return nil
		}
	}

	for _, candidate := range []string{full, full + keymap.ConflictSuffix} {
		if err := removeIfRegular(candidate); err != nil {
			return err
		}
	}

	s.pruneEmptyDirs(filepath.Dir(full))
	return nil
}

// removeIfRegular removes name when it is a regular file or a symlink to one.
func removeIfRegular(name string) error {
	fi, err := os.Lstat(name)
	if errors.Is(err, os.ErrNotExist) || isNotDir(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// pruneEmptyDirs removes dir and its ancestors up to (excluding) the root
// while they are empty real directories.
func (s *FSFileStore) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		fi, err := os.Lstat(dir)
		if err != nil || !fi.IsDir() {
			return
		}
		// os.Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
