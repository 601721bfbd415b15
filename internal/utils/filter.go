package utils

import (
	"strings"
	"unicode"
)

// IsSeparator checks if a rune joins parts of a single word, as in
// "well-known" or "don't".
func IsSeparator(r rune) bool {
	return r == '-' || r == '\''
}

// IsOnlyNumbers checks if a string consists entirely of numeric digits
func IsOnlyNumbers(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ContainsSpecialChars checks if a string contains special characters
// (non-alphanumeric characters excluding word separators)
func ContainsSpecialChars(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !IsSeparator(r) {
			return true
		}
	}
	return false
}

// IsRepetitive checks if a string is one character repeated 3+ times, like
// "aaa" or "www".
func IsRepetitive(s string) bool {
	runes := []rune(s)
	if len(runes) <= 2 {
		return false
	}
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}

// IsValidWord reports whether s is worth learning as a word: not empty, not
// a number, no special characters and not a run of one character.
func IsValidWord(s string) bool {
	return len(s) > 0 && !IsOnlyNumbers(s) && !ContainsSpecialChars(s) && !IsRepetitive(s)
}

// Tokenize splits free text into lower-case words. Punctuation around a word
// is stripped; anything still not a valid word is dropped.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		w = strings.ToLower(w)
		if IsValidWord(w) {
			words = append(words, w)
		}
	}
	return words
}
