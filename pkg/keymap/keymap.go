// Package keymap converts between bus keys and managed paths.
//
// A managed path is the part of a key left after stripping the storage's
// prefix. It is always slash-separated, relative and free of traversal
// segments, so joining it to a storage root never escapes that root.
package keymap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reserved names inside a storage directory.
const (
	// IndexDirName is the directory holding the metadata index.
	IndexDirName = ".fsstore_index"

	// ConflictSuffix is appended to a file whose managed path collides with a directory.
	ConflictSuffix = "__z__"

	// TempFilePrefix marks in-flight files of an atomic write.
	TempFilePrefix = ".fsstore-tmp-"
)

var (
	ErrInvalidKey     = errors.New("invalid key")
	ErrPrefixMismatch = errors.New("key does not start with the storage prefix")
)

// ToPath strips prefix from key and validates the remainder.
func ToPath(key, prefix string) (string, error) {
	if !strings.HasPrefix(key, prefix) {
		return "", fmt.Errorf("%w: key %q, prefix %q", ErrPrefixMismatch, key, prefix)
	}

	path := key[len(prefix):]
	if err := Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

// ToKey is the inverse of ToPath.
func ToKey(path, prefix string) string {
	return prefix + path
}

// Validate checks that path can be stored under a root without escaping it
// or shadowing one of the reserved names.
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidKey)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, path)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidKey, path)
	}

	for _, seg := range strings.Split(path, "/") {
		switch {
		case seg == "":
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidKey, path)
		case seg == "." || seg == "..":
			return fmt.Errorf("%w: %q has a traversal segment", ErrInvalidKey, path)
		case seg == IndexDirName:
			return fmt.Errorf("%w: %q uses the reserved name %s", ErrInvalidKey, path, IndexDirName)
		case strings.HasSuffix(seg, ConflictSuffix):
			return fmt.Errorf("%w: %q uses the reserved suffix %s", ErrInvalidKey, path, ConflictSuffix)
		case strings.HasPrefix(seg, TempFilePrefix):
			return fmt.Errorf("%w: %q uses the reserved prefix %s", ErrInvalidKey, path, TempFilePrefix)
		case filepath.Separator != '/' && strings.ContainsRune(seg, filepath.Separator):
			return fmt.Errorf("%w: %q contains a host path separator", ErrInvalidKey, path)
		}
	}
	return nil
}

// ToFSPath converts a managed path to host separators.
func ToFSPath(path string) string {
	return filepath.FromSlash(path)
}

// FromFSPath converts a host-relative path back to a managed path.
func FromFSPath(fsPath string) string {
	return filepath.ToSlash(fsPath)
}
