// Copyright 2024-2026 Aiku AI

package relay

import "strings"

// DefaultPartLimit is the maximum number of characters in one posted part.
const DefaultPartLimit = 2000

var sentenceEnds = []string{". ", "! ", "? "}

// Split breaks content into parts of at most limit characters. Cuts prefer
// the end of a sentence, then a newline, then a space; without any of those
// the text is cut hard at the limit. Whitespace around cut points is dropped
// and empty parts are never returned. Content that fits in one part is
// returned unchanged.
func Split(content string, limit int) []string {
	if limit <= 0 {
		limit = DefaultPartLimit
	}
	var parts []string
	rest := []rune(content)
	for len(rest) > limit {
		window := string(rest[:limit])
		cut := lastBoundary(window)
		if cut < 0 {
			cut = limit
		} else {
			cut++
		}
		if part := strings.TrimSpace(string(rest[:cut])); part != "" {
			parts = append(parts, part)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if tail := string(rest); strings.TrimSpace(tail) != "" {
		parts = append(parts, tail)
	}
	return parts
}

// lastBoundary returns the rune index of the boundary character to cut
// after, or -1.
func lastBoundary(window string) int {
	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(window, end); idx > best {
			best = idx
		}
	}
	if best < 0 {
		best = strings.LastIndex(window, "\n")
	}
	if best < 0 {
		best = strings.LastIndex(window, " ")
	}
	if best < 0 {
		return -1
	}
	return len([]rune(window[:best]))
}
