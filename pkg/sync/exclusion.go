package sync

import (
	"path"
	"path/filepath"
	"strings"
)

// ExclusionSet is an ordered list of path name patterns that are skipped
// while mirroring.
//
// Patterns without a separator, such as `.git` or `*.pyc`, are matched with
// shell glob syntax against every component of a path, so they apply at any
// depth. Patterns with a separator, such as `static/uploads`, match that
// relative path and everything beneath it.
type ExclusionSet []string

// Excludes returns whether the path, relative to the mirror root, is
// excluded.
func (set ExclusionSet) Excludes(relPath string) bool {
	relPath = filepath.ToSlash(filepath.Clean(relPath))
	if relPath == "." {
		return false
	}

	components := strings.Split(relPath, "/")
	for _, pattern := range set {
		pattern = filepath.ToSlash(filepath.Clean(pattern))
		if strings.Contains(pattern, "/") {
			if _, ok := matchPattern(relPath, pattern); ok {
				return true
			}
			continue
		}

		for _, component := range components {
			if ok, _ := path.Match(pattern, component); ok {
				return true
			}
		}
	}
	return false
}
