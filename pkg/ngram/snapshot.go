package ngram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tchap/go-patricia/v2/patricia"
)

// Entry is one counted n-gram: Next observed Count times after Context.
type Entry struct {
	Context []string `msgpack:"c"`
	Next    string   `msgpack:"n"`
	Count   int64    `msgpack:"f"`
}

// Snapshot is a serialisable copy of every count in a Model.
type Snapshot struct {
	Order   int     `msgpack:"order"`
	Tokens  int64   `msgpack:"tokens"`
	Entries []Entry `msgpack:"entries"`
}

// Snapshot copies the model's counts, ordered by context length, context and
// next token.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{Order: m.order, Tokens: m.tokens}
	for k, t := range m.levels {
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			var ctx []string
			if k > 0 {
				ctx = strings.Split(key, keySep)
			}
			nexts := make([]string, 0, len(t[key]))
			for next := range t[key] {
				nexts = append(nexts, next)
			}
			sort.Strings(nexts)
			for _, next := range nexts {
				snap.Entries = append(snap.Entries, Entry{Context: ctx, Next: next, Count: t[key][next]})
			}
		}
	}
	return snap
}

// Restore replaces the model's counts with snap. The new tables are built
// aside and swapped in under the write lock, so readers see either the old or
// the new counts. Invalid snapshots wrap ErrModelCorruption and leave the
// model untouched.
func (m *Model) Restore(snap Snapshot) error {
	if snap.Order != m.order {
		return fmt.Errorf("%w: snapshot order %d, model order %d", ErrModelCorruption, snap.Order, m.order)
	}
	if snap.Tokens < 0 {
		return fmt.Errorf("%w: negative token total %d", ErrModelCorruption, snap.Tokens)
	}

	levels, trie := newTables(m.order)
	for i, e := range snap.Entries {
		ctx := foldFields(e.Context)
		next := strings.Fields(strings.ToLower(e.Next))
		switch {
		case e.Count < 0:
			return fmt.Errorf("%w: entry %d has negative count %d", ErrModelCorruption, i, e.Count)
		case len(ctx) >= m.order:
			return fmt.Errorf("%w: entry %d context longer than order %d", ErrModelCorruption, i, m.order)
		case len(next) != 1:
			return fmt.Errorf("%w: entry %d has invalid token %q", ErrModelCorruption, i, e.Next)
		case e.Count == 0:
			continue
		}

		key := strings.Join(ctx, keySep)
		nexts := levels[len(ctx)][key]
		if nexts == nil {
			nexts = make(map[string]int64)
			levels[len(ctx)][key] = nexts
		}
		nexts[next[0]] += e.Count
		if len(ctx) == 0 {
			trie.Set(patricia.Prefix(next[0]), nexts[next[0]])
		}
	}

	m.mu.Lock()
	m.levels, m.unigrams, m.tokens = levels, trie, snap.Tokens
	m.mu.Unlock()
	return nil
}
