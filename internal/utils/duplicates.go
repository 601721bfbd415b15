package utils

import (
	"strings"
)

// SuggestionFilter drops repeated suggestions, comparing case-insensitively.
// It is not safe for concurrent use.
type SuggestionFilter struct {
	seenWords map[string]bool
}

// NewSuggestionFilter creates a filter that already treats exclude as seen.
func NewSuggestionFilter(exclude ...string) *SuggestionFilter {
	seenWords := make(map[string]bool, len(exclude))
	for _, w := range exclude {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			seenWords[w] = true
		}
	}
	return &SuggestionFilter{seenWords: seenWords}
}

// ShouldInclude reports whether word is new, and marks it as seen.
func (f *SuggestionFilter) ShouldInclude(word string) bool {
	lowerWord := strings.ToLower(strings.TrimSpace(word))
	if f.seenWords[lowerWord] {
		return false
	}
	f.seenWords[lowerWord] = true
	return true
}
