package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/fsstore/pkg/storage"
	"github.com/marmos91/fsstore/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := ParseOptions(map[string]any{"dir": "d"})
	require.NoError(t, err)

	assert.Equal(t, "d", opts.Dir)
	assert.False(t, opts.ReadOnly)
	assert.False(t, opts.FollowLinks)
	assert.True(t, opts.KeepMimeTypes)
	assert.True(t, opts.SyncWrites)
	assert.Equal(t, "do_nothing", opts.OnClosure)
	assert.Equal(t, "badger", opts.Index)
}

func TestParseOptionsBooleans(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{"yes", true},
		{"YES", true},
		{"true", true},
		{"no", false},
		{"False", false},
		{true, true},
		{false, false},
	}

	for _, tt := range tests {
		opts, err := ParseOptions(map[string]any{"dir": "d", "read_only": tt.value, "keep_mime_types": tt.value})
		require.NoError(t, err, "value %v", tt.value)
		assert.Equal(t, tt.want, opts.ReadOnly, "value %v", tt.value)
		assert.Equal(t, tt.want, opts.KeepMimeTypes, "value %v", tt.value)
	}

	_, err := ParseOptions(map[string]any{"dir": "d", "follow_links": "maybe"})
	assert.ErrorIs(t, err, ErrInvalidProperties)
}

func TestParseOptionsDurations(t *testing.T) {
	opts, err := ParseOptions(map[string]any{
		"dir":                 "d",
		"gc_interval":         "2m",
		"tombstone_retention": "10s",
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, opts.GCInterval)
	assert.Equal(t, 10*time.Second, opts.TombstoneRetention)
}

func TestParseOptionsRequiresDir(t *testing.T) {
	_, err := ParseOptions(map[string]any{"read_only": "yes"})
	assert.ErrorIs(t, err, ErrInvalidProperties)

	_, err = ParseOptions(nil)
	assert.ErrorIs(t, err, ErrInvalidProperties)
}

func TestParseOptionsIgnoresUnknown(t *testing.T) {
	opts, err := ParseOptions(map[string]any{"dir": "d", "volume": "fs"})
	require.NoError(t, err)
	assert.Equal(t, "d", opts.Dir)
}

func TestDefaultRoot(t *testing.T) {
	t.Setenv(RootEnvVar, "/srv/fsstore")
	root, err := DefaultRoot()
	require.NoError(t, err)
	assert.Equal(t, "/srv/fsstore", root)

	home := t.TempDir()
	t.Setenv(RootEnvVar, "")
	t.Setenv("HOME", home)
	root, err = DefaultRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".fsstore", "backend_fs"), root)
}

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	b, err := New(Config{Root: root})
	require.NoError(t, err)

	assert.DirExists(t, root)
	assert.Equal(t, root, b.Root())

	status := b.Status()
	assert.Equal(t, root, status["root"])
	assert.Equal(t, Version, status["version"])
	assert.NotEmpty(t, status["writer_id"])
}

func TestCreateStorage(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	s, err := b.CreateStorage(ctx, Properties{
		Name:        "demo",
		KeyExpr:     "demo/example/**",
		StripPrefix: "demo/example",
		Options:     map[string]any{"dir": "a/b", "index": "memory"},
	})
	require.NoError(t, err)
	defer func() { _ = s.Close(ctx) }()

	assert.Equal(t, filepath.Join(b.Root(), "a", "b"), s.Dir())
	assert.Equal(t, "demo/example/", s.StripPrefix())

	require.NoError(t, s.Put(ctx, "demo/example/x", []byte("v"), "text/plain", timestamp.Timestamp{}))
	data, err := os.ReadFile(filepath.Join(b.Root(), "a", "b", "x"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestCreateStorageReadOnly(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	s, err := b.CreateStorage(ctx, Properties{
		Name:    "ro",
		KeyExpr: "ro/**",
		Options: map[string]any{"dir": "ro", "read_only": "yes", "index": "memory"},
	})
	require.NoError(t, err)
	defer func() { _ = s.Close(ctx) }()

	err = s.Put(ctx, "x", []byte("v"), "", timestamp.Timestamp{})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestCreateStorageDeleteAll(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	s, err := b.CreateStorage(ctx, Properties{
		Name:    "tmp",
		KeyExpr: "tmp/**",
		Options: map[string]any{"dir": "tmp", "on_closure": "delete_all"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	assert.NoDirExists(t, filepath.Join(b.Root(), "tmp"))
}

func TestCreateStorageRejectsBadProperties(t *testing.T) {
	ctx := context.Background()
	b, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	tests := []struct {
		name  string
		props Properties
	}{
		{
			name:  "missing dir",
			props: Properties{Name: "s", KeyExpr: "a/**", Options: map[string]any{}},
		},
		{
			name:  "dir escapes root",
			props: Properties{Name: "s", KeyExpr: "a/**", Options: map[string]any{"dir": "../outside"}},
		},
		{
			name:  "dir with parent segment",
			props: Properties{Name: "s", KeyExpr: "a/**", Options: map[string]any{"dir": "x/../../y"}},
		},
		{
			name: "strip prefix not a prefix",
			props: Properties{Name: "s", KeyExpr: "a/**", StripPrefix: "b",
				Options: map[string]any{"dir": "d"}},
		},
		{
			name:  "bad index",
			props: Properties{Name: "s", KeyExpr: "a/**", Options: map[string]any{"dir": "d", "index": "sqlite"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CreateStorage(ctx, tt.props)
			assert.ErrorIs(t, err, ErrInvalidProperties)
		})
	}

	_, err = b.CreateStorage(ctx, Properties{
		Name: "s", KeyExpr: "a/**",
		Options: map[string]any{"dir": "d", "on_closure": "explode"},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestNormalizeStripPrefix(t *testing.T) {
	p, err := normalizeStripPrefix("demo/example/**", "demo/example")
	require.NoError(t, err)
	assert.Equal(t, "demo/example/", p)

	p, err = normalizeStripPrefix("demo/example", "demo/example/")
	require.NoError(t, err)
	assert.Equal(t, "demo/example/", p)

	p, err = normalizeStripPrefix("anything/**", "")
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = normalizeStripPrefix("demo/examples/**", "demo/example")
	assert.ErrorIs(t, err, ErrInvalidProperties)
}
