package keymap

import (
	"path"
	"strings"
)

// Matcher decides whether a key is selected by a pattern.
type Matcher func(pattern, key string) bool

// Match is a small local filter over slash-separated keys.
//
// "**" matches zero or more segments. Any other segment is matched with
// path.Match, so "*" matches within a single segment. It is not the bus's own
// key-expression algorithm; storages accept a different Matcher when the
// host needs exact bus semantics.
func Match(pattern, key string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(key, "/"))
}

func matchSegments(pat, key []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(key); i++ {
				if matchSegments(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], key[0])
		if err != nil || !ok {
			return false
		}
		pat, key = pat[1:], key[1:]
	}
	return len(key) == 0
}

// HasWildcard reports whether pattern selects more than one literal key.
func HasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// LiteralPrefix returns the leading segments of pattern that contain no
// wildcard, joined with "/" and without a trailing slash.
func LiteralPrefix(pattern string) string {
	segs := strings.Split(pattern, "/")
	n := 0
	for n < len(segs) && !HasWildcard(segs[n]) {
		n++
	}
	if n == len(segs) {
		return pattern
	}
	return strings.Join(segs[:n], "/")
}
