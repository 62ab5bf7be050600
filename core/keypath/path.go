package keypath

import (
	"sort"
	"strings"
)

// Join builds a flat key from path segments.
func Join(parts ...string) string {
	return strings.Join(parts, Delimiter)
}

// Split breaks a flat key into its path segments.
func Split(path string) []string {
	return strings.Split(path, Delimiter)
}

// IsPrefix reports whether parent is a strict path-prefix of key.
func IsPrefix(parent, key string) bool {
	return len(key) > len(parent) && strings.HasPrefix(key, parent) && key[len(parent):len(parent)+len(Delimiter)] == Delimiter
}

// Related reports whether a and b denote the same node or one is an ancestor of the other.
func Related(a, b string) bool {
	return a == b || IsPrefix(a, b) || IsPrefix(b, a)
}

// Conflicts returns the live keys that must be dropped when key is written,
// i.e. every other key that is an ancestor or a descendant of key.
func Conflicts(existing []string, key string) []string {
	var out []string
	for _, k := range existing {
		if k != key && Related(k, key) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
