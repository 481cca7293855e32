// Package pathmatch implements the rsync-style pattern matching used by the
// Local Watcher to honor the ignore list (the Tree Lister and Bulk Transfer
// pass the same patterns to rsync as --exclude options instead).
// Matching follows the same rules as rsync's include/exclude patterns, with
// the exception that "**" is not supported.
package pathmatch

import (
	"path"
	"path/filepath"
	"strings"
)

// Matches tests relPath (a forward-slash relative path with no leading
// slash) against pattern.
//
//   - pattern == "/" matches every path.
//   - A pattern with a leading "/" is anchored: matched segment-by-segment
//     against relPath's segments starting at the root. A trailing slash on
//     the pattern is stripped before matching.
//   - A pattern without a leading slash is floating: an anchored match is
//     attempted against every suffix of relPath's segment list, succeeding
//     if any attempt succeeds.
//   - Each segment match uses shell-glob semantics (*, ?, [...]).
//   - "**" is not given any special meaning; it is matched literally as
//     repeated "*" characters within a single segment.
func Matches(relPath, pattern string) bool {
	if pattern == "/" {
		return true
	}

	cleaned := path.Clean(relPath)
	pattern = strings.TrimSuffix(pattern, "/")

	if strings.HasPrefix(pattern, "/") {
		return anchoredMatch(segments(cleaned), segments(strings.TrimPrefix(pattern, "/")))
	}
	return floatingMatch(segments(cleaned), segments(pattern))
}

// MatchesAnyOf reports whether relPath matches any of patterns.
func MatchesAnyOf(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if Matches(relPath, pattern) {
			return true
		}
	}
	return false
}

func floatingMatch(pathSegments, patternSegments []string) bool {
	for i := range pathSegments {
		if anchoredMatch(pathSegments[i:], patternSegments) {
			return true
		}
	}
	return false
}

func anchoredMatch(pathSegments, patternSegments []string) bool {
	if len(patternSegments) > len(pathSegments) {
		return false
	}
	if len(patternSegments) == 0 {
		return true
	}
	matched, err := filepath.Match(patternSegments[0], pathSegments[0])
	if err != nil || !matched {
		return false
	}
	return anchoredMatch(pathSegments[1:], patternSegments[1:])
}

func segments(cleanPath string) []string {
	if cleanPath == "" || cleanPath == "." || cleanPath == "/" {
		return nil
	}
	cleanPath = strings.Trim(cleanPath, "/")
	if cleanPath == "" {
		return nil
	}
	return strings.Split(cleanPath, "/")
}
