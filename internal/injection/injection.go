// Package injection flags spell results that try to steer the model: known
// override phrases, and text that would cast a spell if the model echoed it.
package injection

import (
	"strings"
)

// DefaultPatterns are the high-risk phrases every Scanner checks (case-insensitive).
var DefaultPatterns = []string{
	"ignore previous",
	"ignore all previous",
	"disregard previous",
	"system prompt",
	"simulated mode",
}

// MarkerPattern is reported when a result contains a complete invocation.
const MarkerPattern = "embedded invocation"

// ScanResult holds the result of a scan.
type ScanResult struct {
	Detected bool     // true if anything matched
	Patterns []string // matched phrases, MarkerPattern last
}

// Scanner checks text for DefaultPatterns, extra phrases and, when marker is
// set, a marker-delimited invocation.
type Scanner struct {
	marker   string
	patterns []string
}

// NewScanner returns a Scanner for the given invocation marker. Extra phrases
// are matched case-insensitively alongside DefaultPatterns.
func NewScanner(marker string, extra ...string) *Scanner {
	patterns := append([]string(nil), DefaultPatterns...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Scanner{marker: marker, patterns: patterns}
}

// Scan reports every pattern found in text.
func (s *Scanner) Scan(text string) ScanResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return ScanResult{}
	}
	lower := strings.ToLower(text)
	var matched []string
	for _, p := range s.patterns {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	if s.marker != "" && strings.Count(text, s.marker) >= 2 {
		matched = append(matched, MarkerPattern)
	}
	if len(matched) == 0 {
		return ScanResult{}
	}
	return ScanResult{Detected: true, Patterns: matched}
}

// Scan checks text against DefaultPatterns only.
func Scan(text string) ScanResult {
	return NewScanner("").Scan(text)
}
