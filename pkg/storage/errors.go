package storage

import (
	"errors"
	"fmt"

	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/store/index"
)

// Error taxonomy. Operations return a *StorageError wrapping one of these,
// so callers test with errors.Is.
var (
	ErrInvalidKey     = keymap.ErrInvalidKey
	ErrPrefixMismatch = keymap.ErrPrefixMismatch
	ErrIndexIO        = index.ErrIndexIO

	// ErrReadOnly is returned by put and delete on a read-only storage.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrFileIO wraps failures of the file store.
	ErrFileIO = errors.New("file I/O error")

	// ErrAlreadyOpen is returned when the directory is held by another engine.
	ErrAlreadyOpen = errors.New("storage directory already open")

	// ErrInconsistent marks a file mutation whose index update failed: the
	// file and its record disagree until the next accepted write.
	ErrInconsistent = errors.New("file and index are inconsistent")

	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage closed")

	// ErrInvalidConfig is returned by Open for unusable configurations.
	ErrInvalidConfig = errors.New("invalid storage configuration")
)

// StorageError describes a failed storage operation.
type StorageError struct {
	Op  string // "put", "delete", "get", "open", "close"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func opError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// fileIOError tags a file store failure with ErrFileIO unless it already
// carries a more specific class.
func fileIOError(err error) error {
	if errors.Is(err, ErrInvalidKey) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFileIO, err)
}
