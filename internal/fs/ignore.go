package fs

import (
	"path"
	"strings"
)

// IgnoreMatcher checks file and directory names against glob patterns,
// ignoring case. A pattern may list alternatives separated by '|'.
type IgnoreMatcher struct {
	patterns []string
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []string
	for _, raw := range rawPatterns {
		for _, alt := range strings.Split(raw, "|") {
			alt = strings.TrimSpace(alt)
			if alt == "" || strings.HasPrefix(alt, "#") {
				continue
			}
			patterns = append(patterns, strings.ToLower(alt))
		}
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether name should be ignored.
func (m *IgnoreMatcher) Match(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range m.patterns {
		matched, err := path.Match(p, lower)
		if err != nil {
			// Bad pattern: skip rather than fail the scan.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
