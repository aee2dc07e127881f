package manifest

import (
	"fmt"
	"path"
	"strings"
)

// Match reports whether the slash-separated relative path rel matches pattern.
// The pattern is tried against rel and each of its ancestor directories, so a
// directory pattern covers everything below it. A pattern without a slash is
// also tried against the base name of each of those paths.
func Match(pattern, rel string) bool {
	pattern = strings.Trim(path.Clean(pattern), "/")
	rel = strings.Trim(path.Clean(rel), "/")
	if pattern == "" || pattern == "." || rel == "" || rel == "." {
		return false
	}
	hasSlash := strings.Contains(pattern, "/")
	for p := rel; p != "." && p != ""; p = path.Dir(p) {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		if !hasSlash {
			if ok, _ := path.Match(pattern, path.Base(p)); ok {
				return true
			}
		}
	}
	return false
}

// MatchAny reports whether rel matches any of the patterns.
func MatchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

func checkPattern(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("empty path pattern")
	}
	if _, err := path.Match(p, ""); err != nil {
		return fmt.Errorf("invalid path pattern %q: %w", p, err)
	}
	return nil
}
