package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchPath reports whether a file path matches any of the given doublestar
// patterns. Relative patterns are matched against the path made relative to
// root. Used to auto-approve edit confirmations under trusted directories.
func MatchPath(patterns []string, path, root string) bool {
	path = filepath.ToSlash(filepath.Clean(path))

	var rel string
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = filepath.ToSlash(r)
		}
	}

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
		if rel != "" {
			if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// IsWithinDir reports whether path is inside dir after cleaning both.
func IsWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
