package remote

import (
	"fmt"
	"strings"
)

// illegal characters in a path segment.
const illegalSegmentChars = ".#$[]"

// CleanPath normalizes a slash separated path: leading, trailing and
// repeated slashes are dropped. The root path is "".
func CleanPath(path string) (string, error) {
	parts := SplitPath(path)
	for _, p := range parts {
		if strings.ContainsAny(p, illegalSegmentChars) {
			return "", fmt.Errorf("%w: segment %q of %q", ErrInvalidPath, p, path)
		}
	}
	return strings.Join(parts, "/"), nil
}

// SplitPath returns the non-empty segments of path.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// JoinPath joins segments, ignoring empty ones.
func JoinPath(parts ...string) string {
	var all []string
	for _, p := range parts {
		all = append(all, SplitPath(p)...)
	}
	return strings.Join(all, "/")
}

// ParentPath returns the path of the parent node; the root is its own parent.
func ParentPath(path string) string {
	parts := SplitPath(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], "/")
}

// BaseName returns the last segment of path, or "" for the root.
func BaseName(path string) string {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// IsAncestor reports whether a is path or one of its ancestors.
func IsAncestor(a, path string) bool {
	if a == "" || a == path {
		return true
	}
	return strings.HasPrefix(path, a+"/")
}

// Overlaps reports whether a write to one path can change the value seen
// at the other, that is whether either is an ancestor of the other.
func Overlaps(a, b string) bool {
	return IsAncestor(a, b) || IsAncestor(b, a)
}
