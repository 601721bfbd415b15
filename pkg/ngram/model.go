// Package ngram is the local statistical language model: frequency counts over
// word sequences up to order N, ranked with backoff to shorter contexts.
package ngram

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// ErrModelCorruption reports counts that cannot have come from observed text.
var ErrModelCorruption = errors.New("ngram: model corruption")

const (
	DefaultOrder          = 3
	DefaultDiscount       = 0.5
	DefaultMinTokenLength = 2
)

// keySep joins context words into table keys. Tokens never contain spaces.
const keySep = " "

// Options tunes a Model. Zero values select the defaults.
type Options struct {
	// Order is N, the longest n-gram counted.
	Order int
	// Discount multiplies scores once per backoff step below the full order.
	Discount float64
	// MinTokenLength drops shorter candidates from rankings.
	MinTokenLength int
}

// table maps a context key to next-token counts.
type table map[string]map[string]int64

// Model holds n-gram counts. It is safe for concurrent use; Observe applies
// every increment of a call under one write lock.
type Model struct {
	mu       sync.RWMutex
	order    int
	discount float64
	minLen   int
	levels   []table // indexed by context length, 0..order-1
	unigrams *patricia.Trie
	tokens   int64
}

// New creates an empty model.
func New(opts Options) *Model {
	if opts.Order < 1 {
		opts.Order = DefaultOrder
	}
	if opts.Discount <= 0 || opts.Discount >= 1 {
		opts.Discount = DefaultDiscount
	}
	if opts.MinTokenLength < 1 {
		opts.MinTokenLength = DefaultMinTokenLength
	}
	m := &Model{
		order:    opts.Order,
		discount: opts.Discount,
		minLen:   opts.MinTokenLength,
	}
	m.levels, m.unigrams = newTables(opts.Order)
	return m
}

func newTables(order int) ([]table, *patricia.Trie) {
	levels := make([]table, order)
	for i := range levels {
		levels[i] = make(table)
	}
	return levels, patricia.NewTrie()
}

// Order returns N.
func (m *Model) Order() int {
	return m.order
}

// normalizeTokens reduces words to model tokens the way learned text is
// tokenized: lower case, outer punctuation stripped, non-words dropped. Both
// Observe and RankLocal go through it so "hello," typed as context matches
// "hello" learned from a sentence.
func normalizeTokens(words []string) []string {
	return utils.Tokenize(strings.Join(words, " "))
}

// foldFields folds case and splits anything holding whitespace. Snapshot
// entries are already tokens and only need this.
func foldFields(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.Fields(strings.ToLower(w))...)
	}
	return out
}

// Observe counts every n-gram of length 1..N ending at each position of words.
func (m *Model) Observe(words []string) {
	tokens := normalizeTokens(words)
	if len(tokens) == 0 {
		return
	}

	// Build the deltas before locking so readers wait only for the apply.
	deltas := make([]table, m.order)
	for i := range deltas {
		deltas[i] = make(table)
	}
	for i := range tokens {
		for k := 0; k < m.order && i-k >= 0; k++ {
			key := strings.Join(tokens[i-k:i], keySep)
			next := deltas[k][key]
			if next == nil {
				next = make(map[string]int64)
				deltas[k][key] = next
			}
			next[tokens[i]]++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range deltas {
		for key, nexts := range d {
			m.addLocked(k, key, nexts)
		}
	}
	m.tokens += int64(len(tokens))
}

func (m *Model) addLocked(level int, key string, nexts map[string]int64) {
	dst := m.levels[level][key]
	if dst == nil {
		dst = make(map[string]int64, len(nexts))
		m.levels[level][key] = dst
	}
	for token, n := range nexts {
		dst[token] += n
		if level == 0 {
			m.unigrams.Set(patricia.Prefix(token), dst[token])
		}
	}
}

// Count returns how often next followed context. An empty context asks for
// the unigram count.
func (m *Model) Count(context []string, next string) int64 {
	ctx := normalizeTokens(context)
	if len(ctx) >= m.order {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[len(ctx)][strings.Join(ctx, keySep)][predict.FoldToken(next)]
}

// Reset drops every count.
func (m *Model) Reset() {
	levels, trie := newTables(m.order)
	m.mu.Lock()
	m.levels, m.unigrams, m.tokens = levels, trie, 0
	m.mu.Unlock()
}

type scored struct {
	token string
	count int64
}

// RankLocal ranks next tokens for c. It starts from the longest context suffix
// the model can use and backs off one word at a time down to unigrams. Levels
// after the first productive one only fill remaining slots, and each of their
// scores stays strictly below every score taken from a longer context.
// It never fails; a cold model yields an empty list.
func (m *Model) RankLocal(c predict.Context, maxResults int) predict.RankedList {
	out := make(predict.RankedList, 0, max(maxResults, 0))
	if maxResults <= 0 {
		return out
	}

	maxCtx := m.order - 1
	words := normalizeTokens(c.Words)
	if len(words) > maxCtx {
		words = words[len(words)-maxCtx:]
	}
	partial := predict.FoldToken(c.Partial)

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	floor := math.Inf(1)
	for k := len(words); k >= 0 && len(out) < maxResults; k-- {
		found := m.collectLocked(k, words[len(words)-k:], partial, seen)
		if len(found) == 0 {
			continue
		}
		sort.Slice(found, func(i, j int) bool {
			if found[i].count != found[j].count {
				return found[i].count > found[j].count
			}
			return found[i].token < found[j].token
		})

		scale := math.Pow(m.discount, float64(maxCtx-k))
		if !math.IsInf(floor, 1) {
			if ceiling := floor / float64(found[0].count+1); scale > ceiling {
				scale = ceiling
			}
		}
		for _, f := range found {
			if len(out) >= maxResults {
				break
			}
			score := float64(f.count) * scale
			out = append(out, predict.Candidate{Token: f.token, Score: score, Source: predict.SourceLocal})
			seen[f.token] = true
			floor = score
		}
	}
	return out
}

// collectLocked gathers candidates following ctx whose token starts with
// partial. Callers hold at least the read lock.
func (m *Model) collectLocked(k int, ctx []string, partial string, seen map[string]bool) []scored {
	var found []scored
	keep := func(token string, count int64) {
		if count <= 0 || seen[token] || len([]rune(token)) < m.minLen {
			return
		}
		found = append(found, scored{token: token, count: count})
	}

	if k > 0 {
		for token, count := range m.levels[k][strings.Join(ctx, keySep)] {
			if strings.HasPrefix(token, partial) {
				keep(token, count)
			}
		}
		return found
	}

	visit := func(p patricia.Prefix, item patricia.Item) error {
		token := string(p)
		// The word already typed in full is not a completion.
		if partial != "" && token == partial {
			return nil
		}
		switch v := item.(type) {
		case int64:
			keep(token, v)
		default:
			log.Errorf("Unknown item type: %T for word %s", item, p)
		}
		return nil
	}
	var err error
	if partial == "" {
		err = m.unigrams.Visit(visit)
	} else {
		err = m.unigrams.VisitSubtree(patricia.Prefix(partial), visit)
	}
	if err != nil {
		log.Errorf("Error visiting unigram trie: %v", err)
	}
	return found
}

// Stats reports table sizes.
func (m *Model) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{
		"order":          m.order,
		"observedTokens": int(m.tokens),
	}
	for k, t := range m.levels {
		entries := 0
		for _, nexts := range t {
			entries += len(nexts)
		}
		switch k {
		case 0:
			stats["unigrams"] = entries
		default:
			stats[ngramName(k+1)] = entries
		}
	}
	return stats
}

func ngramName(n int) string {
	switch n {
	case 2:
		return "bigrams"
	case 3:
		return "trigrams"
	default:
		return fmt.Sprintf("%dgrams", n)
	}
}
