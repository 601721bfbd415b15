// Package predict holds the data model shared by the local model, the remote
// client, the response cache and the merge engine.
package predict

import (
	"strings"
)

// Source tags where a candidate came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// cursorMarker is the caret the scanning keyboard leaves in its text buffer.
const cursorMarker = "|"

// Candidate is a single suggested next token.
// Scores from different sources are not on the same scale.
type Candidate struct {
	Token  string  `msgpack:"w" json:"token"`
	Score  float64 `msgpack:"s" json:"score"`
	Source Source  `msgpack:"src" json:"source"`
}

// RankedList is ordered highest score first, with each token present once.
type RankedList []Candidate

// Tokens returns the tokens in rank order.
func (l RankedList) Tokens() []string {
	tokens := make([]string, len(l))
	for i, c := range l {
		tokens[i] = c.Token
	}
	return tokens
}

// MaxScore returns the largest score in the list, or 0 for an empty list.
func (l RankedList) MaxScore() float64 {
	max := 0.0
	for _, c := range l {
		if c.Score > max {
			max = c.Score
		}
	}
	return max
}

// Truncate returns at most n leading candidates.
func (l RankedList) Truncate(n int) RankedList {
	if n < 0 {
		n = 0
	}
	if len(l) > n {
		return l[:n]
	}
	return l
}

// Clone returns a copy that shares nothing with l.
func (l RankedList) Clone() RankedList {
	if l == nil {
		return nil
	}
	out := make(RankedList, len(l))
	copy(out, l)
	return out
}

// Context is the recent word history plus the word being typed.
// Treat it as immutable once handed to the engine.
type Context struct {
	Words   []string
	Partial string
}

// NewContext copies words, dropping blanks.
func NewContext(words []string, partial string) Context {
	ws := make([]string, 0, len(words))
	for _, w := range words {
		ws = append(ws, strings.Fields(w)...)
	}
	return Context{Words: ws, Partial: strings.TrimSpace(partial)}
}

// Left is the completed words joined by single spaces.
func (c Context) Left() string {
	return strings.Join(c.Words, " ")
}

// String renders the context as "left|partial".
func (c Context) String() string {
	return c.Left() + cursorMarker + c.Partial
}

// ParseContext splits typed text into completed words and a partial word.
// A trailing space means the last word is complete. The cursor marker is
// ignored wherever it appears.
func ParseContext(text string) Context {
	trailingSpace := strings.HasSuffix(strings.TrimRight(text, cursorMarker), " ")
	cleaned := strings.ReplaceAll(text, cursorMarker, "")
	words := strings.Fields(cleaned)

	if trailingSpace || len(words) == 0 {
		return Context{Words: words}
	}
	return Context{
		Words:   words[:len(words)-1],
		Partial: words[len(words)-1],
	}
}

// FoldToken is the case-folded form used for comparisons and lookups.
func FoldToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
