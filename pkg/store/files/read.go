package files

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exists reports whether a regular file backs path.
func (s *FSFileStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, _, err := s.locate(path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadAll returns the full content of the file backing path.
func (s *FSFileStore) ReadAll(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	physical, _, err := s.locate(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(physical)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Stat describes the file backing path.
func (s *FSFileStore) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	physical, fi, err := s.locate(path)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		PhysicalPath: physical,
		Size:         fi.Size(),
		ModTime:      fi.ModTime(),
	}, nil
}
