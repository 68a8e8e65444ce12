package keymap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPath(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		prefix  string
		want    string
		wantErr error
	}{
		{"simple", "demo/a/b", "demo/", "a/b", nil},
		{"empty prefix", "a/b.txt", "", "a/b.txt", nil},
		{"prefix mismatch", "other/a", "demo/", "", ErrPrefixMismatch},
		{"equals prefix", "demo/", "demo/", "", ErrInvalidKey},
		{"traversal", "demo/../etc/passwd", "demo/", "", ErrInvalidKey},
		{"dot segment", "demo/a/./b", "demo/", "", ErrInvalidKey},
		{"empty segment", "demo/a//b", "demo/", "", ErrInvalidKey},
		{"trailing slash", "demo/a/", "demo/", "", ErrInvalidKey},
		{"absolute", "demo//etc", "demo/", "", ErrInvalidKey},
		{"nul", "demo/a\x00b", "demo/", "", ErrInvalidKey},
		{"index dir", "demo/" + IndexDirName + "/x", "demo/", "", ErrInvalidKey},
		{"conflict suffix", "demo/a" + ConflictSuffix, "demo/", "", ErrInvalidKey},
		{"temp prefix", "demo/" + TempFilePrefix + "1", "demo/", "", ErrInvalidKey},
		{"dots inside name", "demo/a..b", "demo/", "a..b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToPath(tt.key, tt.prefix)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToPathBijection(t *testing.T) {
	keys := []string{
		"demo/a",
		"demo/a/b/c",
		"demo/with space/ü.json",
		"demo/x.tar.gz",
	}
	for _, key := range keys {
		path, err := ToPath(key, "demo/")
		require.NoError(t, err)
		assert.Equal(t, key, ToKey(path, "demo/"))
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"demo/a", "demo/a", true},
		{"demo/a", "demo/b", false},
		{"demo/*", "demo/a", true},
		{"demo/*", "demo/a/b", false},
		{"demo/**", "demo/a/b", true},
		{"demo/**", "demo", true},
		{"demo/**/c", "demo/a/b/c", true},
		{"demo/**/c", "demo/c", true},
		{"demo/**/c", "demo/a/b", false},
		{"demo/*.txt", "demo/x.txt", true},
		{"demo/*.txt", "demo/x.json", false},
		{"**", "anything/at/all", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.key))
		})
	}
}

func TestLiteralPrefix(t *testing.T) {
	assert.Equal(t, "demo/a", LiteralPrefix("demo/a/**"))
	assert.Equal(t, "demo", LiteralPrefix("demo/*.txt"))
	assert.Equal(t, "", LiteralPrefix("**"))
	assert.Equal(t, "demo/a/b", LiteralPrefix("demo/a/b"))
	assert.False(t, HasWildcard("demo/a/b"))
	assert.True(t, HasWildcard("demo/a?"))
}
