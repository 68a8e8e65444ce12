package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, followLinks bool) *FSFileStore {
	t.Helper()
	s, err := NewFSFileStore(context.Background(), t.TempDir(), followLinks)
	require.NoError(t, err)
	return s
}

func walkAll(t *testing.T, s *FSFileStore, prefix string) []string {
	t.Helper()
	var out []string
	for p, err := range s.Walk(context.Background(), prefix) {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	require.NoError(t, s.Write(ctx, "a/b/c.txt", []byte("hello")))

	data, err := s.ReadAll(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	ok, err := s.Exists(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	// Overwrite replaces the whole content.
	require.NoError(t, s.Write(ctx, "a/b/c.txt", []byte("x")))
	data, err = s.ReadAll(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	info, err := s.Stat(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size)
	assert.Equal(t, filepath.Join(s.Root(), "a", "b", "c.txt"), info.PhysicalPath)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)
	require.NoError(t, s.Write(ctx, "k", []byte("v")))

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Name())
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	_, err := s.ReadAll(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "nope/deeper")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTraversalRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	for _, p := range []string{"../escape", "a/../../escape", "/etc/passwd", keymap.IndexDirName + "/x"} {
		err := s.Write(ctx, p, []byte("x"))
		assert.ErrorIs(t, err, keymap.ErrInvalidKey, p)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemovePrunesEmptyDirs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	require.NoError(t, s.Write(ctx, "a/b/c", []byte("1")))
	require.NoError(t, s.Write(ctx, "a/keep", []byte("2")))

	require.NoError(t, s.Remove(ctx, "a/b/c"))

	_, err := os.Stat(filepath.Join(s.Root(), "a", "b"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Root(), "a", "keep"))
	assert.NoError(t, err)

	// Root itself is never removed.
	require.NoError(t, s.Remove(ctx, "a/keep"))
	_, err = os.Stat(s.Root())
	assert.NoError(t, err)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	s := newStore(t, false)
	assert.NoError(t, s.Remove(context.Background(), "never/written"))
}

func TestFileDirectoryConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	// "a" is a file, then becomes a parent.
	require.NoError(t, s.Write(ctx, "a", []byte("file-a")))
	require.NoError(t, s.Write(ctx, "a/b", []byte("file-ab")))

	data, err := s.ReadAll(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("file-a"), data)

	data, err = s.ReadAll(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("file-ab"), data)

	_, err = os.Stat(filepath.Join(s.Root(), "a"+keymap.ConflictSuffix))
	require.NoError(t, err)

	assert.Equal(t, []string{"a/b", "a"}, walkAll(t, s, ""))

	// Writing "a" again while it is a directory goes to the suffixed file.
	require.NoError(t, s.Write(ctx, "a", []byte("file-a2")))
	data, err = s.ReadAll(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("file-a2"), data)

	require.NoError(t, s.Remove(ctx, "a"))
	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	for _, p := range []string{"x/1", "x/y/2", "z"} {
		require.NoError(t, s.Write(ctx, p, []byte(p)))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), keymap.IndexDirName), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), keymap.IndexDirName, "MANIFEST"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), keymap.TempFilePrefix+"123"), nil, 0644))

	assert.Equal(t, []string{"x/1", "x/y/2", "z"}, walkAll(t, s, ""))
	assert.Equal(t, []string{"x/1", "x/y/2"}, walkAll(t, s, "x"))
	assert.Empty(t, walkAll(t, s, "missing"))
}

func TestWalkEarlyStop(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, s.Write(ctx, p, nil))
	}

	var got []string
	for p, err := range s.Walk(ctx, "") {
		require.NoError(t, err)
		got = append(got, p)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSymlinksNotFollowed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Root(), "link")))

	ok, err := s.Exists(ctx, "link/secret")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, walkAll(t, s, ""))
	assert.Empty(t, walkAll(t, s, "link"))

	err = s.Write(ctx, "link/new", []byte("x"))
	assert.ErrorIs(t, err, ErrSymlink)
	_, err = os.Stat(filepath.Join(outside, "new"))
	assert.True(t, os.IsNotExist(err))
}

func TestSymlinksFollowed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "data"), []byte("d"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Root(), "link")))
	// A cycle back to the root must not loop forever.
	require.NoError(t, os.Symlink(s.Root(), filepath.Join(outside, "back")))

	data, err := s.ReadAll(ctx, "link/data")
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), data)

	assert.Equal(t, []string{"link/data"}, walkAll(t, s, ""))
}
