package utils

import (
	"strings"
	"sync"
	"unicode"
)

// Capital letter processing uses a pool to reduce allocations
var capitalInfoPool = sync.Pool{
	New: func() any {
		return &CapitalInfo{
			positions: make([]int, 0, 4), // Pre-allocate for typical cases
			chars:     make([]rune, 0, 4),
		}
	},
}

// CapitalInfo records where a typed word had capitals.
type CapitalInfo struct {
	positions []int
	chars     []rune
	allCaps   bool
}

// Reset resets the CapitalInfo for reuse
func (ci *CapitalInfo) Reset() {
	ci.positions = ci.positions[:0]
	ci.chars = ci.chars[:0]
	ci.allCaps = false
}

// ProcessCapitals returns the lower-case form of s and its capitalisation, or
// nil info when s has no capitals. Release the info when done with it.
func ProcessCapitals(s string) (string, *CapitalInfo) {
	info := capitalInfoPool.Get().(*CapitalInfo)
	info.Reset()

	letters := 0
	for i, r := range []rune(s) {
		if unicode.IsLetter(r) {
			letters++
		}
		if unicode.IsUpper(r) {
			info.positions = append(info.positions, i)
			info.chars = append(info.chars, r)
		}
	}

	if len(info.positions) == 0 {
		capitalInfoPool.Put(info)
		return strings.ToLower(s), nil
	}
	// A shouted prefix like "HEL" shouts the whole suggestion.
	info.allCaps = letters > 1 && len(info.positions) == letters
	return strings.ToLower(s), info
}

// Release returns the info to the pool. It is safe on nil.
func (ci *CapitalInfo) Release() {
	if ci != nil {
		capitalInfoPool.Put(ci)
	}
}

// ApplyCapitals copies the capitals recorded in info onto word.
func ApplyCapitals(word string, info *CapitalInfo) string {
	if info == nil {
		return word
	}

	if info.allCaps {
		return strings.ToUpper(word)
	}
	runes := []rune(word)
	for i, pos := range info.positions {
		if pos < len(runes) {
			runes[pos] = info.chars[i]
		}
	}
	return string(runes)
}
