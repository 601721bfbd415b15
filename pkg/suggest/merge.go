package suggest

import (
	"sort"

	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/predict"
)

// Merge combines a local and a remote ranking under the strategy in cfg and
// returns at most maxResults candidates, each token once.
func Merge(local, remote predict.RankedList, cfg config.Engine, maxResults int) predict.RankedList {
	var merged predict.RankedList
	switch cfg.MergeStrategy {
	case config.MergeAPIFirst:
		merged = concat(remote, local)
	case config.MergeOfflineFirst:
		merged = concat(local, remote)
	default:
		merged = weighted(local, remote, cfg.OfflineWeight, cfg.APIWeight)
	}
	return dedupe(merged).Truncate(maxResults)
}

// concat keeps first in its order and appends what second adds. Scores are
// replaced by list position so the result stays sorted by score.
func concat(first, second predict.RankedList) predict.RankedList {
	filter := utils.NewSuggestionFilter()
	out := make(predict.RankedList, 0, len(first)+len(second))
	for _, list := range []predict.RankedList{first, second} {
		for _, c := range list {
			if filter.ShouldInclude(c.Token) {
				out = append(out, c)
			}
		}
	}
	n := float64(len(out))
	for i := range out {
		out[i].Score = (n - float64(i)) / n
	}
	return out
}

type mergeEntry struct {
	cand   predict.Candidate
	local  float64
	remote float64
}

// weighted normalises each list by its own maximum and sums the two sides.
// Equal scores keep local order first, then remote order.
func weighted(local, remote predict.RankedList, localWeight, remoteWeight float64) predict.RankedList {
	entries := make([]*mergeEntry, 0, len(local)+len(remote))
	index := make(map[string]*mergeEntry, len(local)+len(remote))

	add := func(list predict.RankedList, isLocal bool) {
		top := list.MaxScore()
		for _, c := range list {
			norm := 0.0
			if top > 0 {
				norm = c.Score / top
			}
			key := predict.FoldToken(c.Token)
			e, ok := index[key]
			if !ok {
				e = &mergeEntry{cand: c}
				index[key] = e
				entries = append(entries, e)
			}
			// A token repeated within one side keeps its best score.
			if isLocal {
				e.local = max(e.local, norm)
			} else {
				e.remote = max(e.remote, norm)
			}
		}
	}
	add(local, true)
	add(remote, false)

	out := make(predict.RankedList, len(entries))
	for i, e := range entries {
		l, r := localWeight*e.local, remoteWeight*e.remote
		c := e.cand
		c.Score = l + r
		c.Source = predict.SourceLocal
		if r > l {
			c.Source = predict.SourceRemote
		}
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// dedupe keeps the highest scoring copy of each token, in score order.
func dedupe(list predict.RankedList) predict.RankedList {
	best := make(map[string]int, len(list))
	out := make(predict.RankedList, 0, len(list))
	for _, c := range list {
		key := predict.FoldToken(c.Token)
		if i, ok := best[key]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
