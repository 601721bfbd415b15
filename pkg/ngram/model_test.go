package ngram

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observeLines(m *Model, lines ...string) {
	for _, line := range lines {
		m.Observe(strings.Fields(line))
	}
}

func TestObserveCountsEveryOrder(t *testing.T) {
	m := New(Options{})
	m.Observe([]string{"I", "want", "to", "go"})

	assert.Equal(t, int64(1), m.Count(nil, "want"))
	assert.Equal(t, int64(1), m.Count([]string{"i"}, "want"))
	assert.Equal(t, int64(1), m.Count([]string{"I", "WANT"}, "to"))
	assert.Equal(t, int64(0), m.Count([]string{"want", "to"}, "want"))
	// longer than N-1 words is never stored
	assert.Equal(t, int64(0), m.Count([]string{"i", "want", "to"}, "go"))

	stats := m.Stats()
	assert.Equal(t, 3, stats["order"])
	assert.Equal(t, 4, stats["observedTokens"])
	assert.Equal(t, 4, stats["unigrams"])
	assert.Equal(t, 3, stats["bigrams"])
	assert.Equal(t, 2, stats["trigrams"])
}

func TestObserveRaisesRank(t *testing.T) {
	m := New(Options{})
	c := predict.NewContext([]string{"the"}, "")

	observeLines(m, "the cat", "the dog")
	before := m.RankLocal(c, 2)
	require.Len(t, before, 2)
	assert.Equal(t, "cat", before[0].Token, "ties break alphabetically")

	m.Observe([]string{"the", "dog"})
	after := m.RankLocal(c, 2)
	require.Len(t, after, 2)
	assert.Equal(t, "dog", after[0].Token)
	assert.Greater(t, after[0].Score, before[1].Score)
}

func TestRankLocalBackoff(t *testing.T) {
	m := New(Options{})
	observeLines(m, "i want to go", "i want to eat", "you want pizza")

	got := m.RankLocal(predict.NewContext([]string{"i", "want"}, ""), 5)
	assert.Equal(t, []string{"to", "pizza", "want", "eat", "go"}, got.Tokens())
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i].Score, got[i-1].Score+1e-12, "position %d", i)
	}
	// each backoff level scores strictly below the one before it
	assert.Less(t, got[1].Score, got[0].Score)
	assert.Less(t, got[2].Score, got[1].Score)
	for _, c := range got {
		assert.Equal(t, predict.SourceLocal, c.Source)
	}
}

func TestRankLocalSpecificContextWins(t *testing.T) {
	m := New(Options{})
	observeLines(m, "aa bb cc")
	m.Observe(strings.Fields(strings.Repeat("dd ", 100)))

	got := m.RankLocal(predict.NewContext([]string{"aa", "bb"}, ""), 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "cc", got[0].Token)
	for _, c := range got[1:] {
		assert.Less(t, c.Score, got[0].Score, c.Token)
	}
}

func TestRankLocalPrefix(t *testing.T) {
	m := New(Options{})
	observeLines(m, "Hello help helium HELLO world")

	testCases := []struct {
		partial string
		want    []string
	}{
		{"HEL", []string{"hello", "helium", "help"}},
		{"hel", []string{"hello", "helium", "help"}},
		{"help", nil},
		{"wor", []string{"world"}},
		{"zz", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.partial, func(t *testing.T) {
			got := m.RankLocal(predict.NewContext(nil, tc.partial), 10)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got.Tokens())
		})
	}
}

func TestPunctuatedContextMatchesLearnedText(t *testing.T) {
	m := New(Options{})
	m.Observe([]string{"Hello,", "world."})
	m.Observe([]string{"Hello,", "world."})
	m.Observe([]string{"say", "hello"})

	assert.Equal(t, int64(2), m.Count([]string{"hello"}, "world"))
	assert.Equal(t, m.Count([]string{"hello"}, "world"), m.Count([]string{"\"Hello,"}, "world"))

	got := m.RankLocal(predict.ParseContext("Hello, "), 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "world", got[0].Token)
	assert.Greater(t, got[0].Score, got[len(got)-1].Score)
}

func TestRankLocalContextPrefix(t *testing.T) {
	m := New(Options{})
	observeLines(m, "going to school", "going to town", "going to school")

	got := m.RankLocal(predict.NewContext([]string{"going", "to"}, "SC"), 5)
	require.NotEmpty(t, got)
	assert.Equal(t, "school", got[0].Token)
	assert.NotContains(t, got.Tokens(), "town")
}

func TestRankLocalMinTokenLength(t *testing.T) {
	m := New(Options{})
	observeLines(m, "a b a b a is it")
	for _, tok := range m.RankLocal(predict.Context{}, 10).Tokens() {
		assert.GreaterOrEqual(t, len(tok), 2, tok)
	}

	loose := New(Options{MinTokenLength: 1})
	observeLines(loose, "a b a")
	assert.Equal(t, []string{"a", "b"}, loose.RankLocal(predict.Context{}, 10).Tokens())
}

func TestRankLocalEdgeCases(t *testing.T) {
	m := New(Options{})
	assert.Empty(t, m.RankLocal(predict.NewContext([]string{"anything"}, ""), 5), "cold model")

	observeLines(m, "one two three four")
	assert.Empty(t, m.RankLocal(predict.Context{}, 0))
	assert.Empty(t, m.RankLocal(predict.Context{}, -3))
	assert.Len(t, m.RankLocal(predict.Context{}, 2), 2)

	// unseen context backs off to unigrams
	got := m.RankLocal(predict.NewContext([]string{"never", "seen"}, ""), 10)
	assert.ElementsMatch(t, []string{"one", "two", "three", "four"}, got.Tokens())

	m.Reset()
	assert.Empty(t, m.RankLocal(predict.Context{}, 5))
	assert.Equal(t, 0, m.Stats()["observedTokens"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := New(Options{})
	observeLines(m, "the quick brown fox", "the quick red fox", "The lazy dog")

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.Order)

	restored := New(Options{})
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, m.Stats(), restored.Stats())
	assert.Equal(t, snap, restored.Snapshot())

	c := predict.NewContext([]string{"the", "quick"}, "")
	assert.Equal(t, m.RankLocal(c, 5), restored.RankLocal(c, 5))
}

func TestRestoreRejectsCorruption(t *testing.T) {
	testCases := []struct {
		name string
		snap Snapshot
	}{
		{"order mismatch", Snapshot{Order: 2}},
		{"negative total", Snapshot{Order: 3, Tokens: -1}},
		{"negative count", Snapshot{Order: 3, Entries: []Entry{{Next: "word", Count: -2}}}},
		{"context too long", Snapshot{Order: 3, Entries: []Entry{{Context: []string{"a", "b", "c"}, Next: "word", Count: 1}}}},
		{"blank token", Snapshot{Order: 3, Entries: []Entry{{Next: " ", Count: 1}}}},
		{"multi word token", Snapshot{Order: 3, Entries: []Entry{{Next: "two words", Count: 1}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(Options{})
			observeLines(m, "kept counts")
			err := m.Restore(tc.snap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrModelCorruption))
			assert.Equal(t, int64(1), m.Count([]string{"kept"}, "counts"), "model untouched")
		})
	}
}

func TestConcurrentObserveConservesCounts(t *testing.T) {
	m := New(Options{})
	const writers, rounds = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				m.Observe([]string{"we", "are", "here"})
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				got := m.RankLocal(predict.NewContext([]string{"we", "are"}, ""), 3)
				if len(got) > 0 && got[0].Token != "here" {
					t.Errorf("unexpected top token %q", got[0].Token)
					return
				}
			}
		}()
	}
	wg.Wait()

	total := int64(writers * rounds)
	assert.Equal(t, total, m.Count(nil, "we"))
	assert.Equal(t, total, m.Count([]string{"we"}, "are"))
	assert.Equal(t, total, m.Count([]string{"we", "are"}, "here"))
	assert.Equal(t, int(total*3), m.Stats()["observedTokens"])
}
