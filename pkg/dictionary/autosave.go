package dictionary

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/charmbracelet/log"
)

// Snapshotter is the part of the model the autosaver reads.
type Snapshotter interface {
	Snapshot() ngram.Snapshot
}

// Autosaver writes the model to its store after every N observed sequences
// and once more when it stops.
type Autosaver struct {
	store Store
	model Snapshotter
	every int64
	log   *log.Logger

	pending atomic.Int64
	saveCh  chan struct{}
	mu      sync.Mutex
	saves   int
	lastErr error
}

// NewAutosaver creates a saver. every < 1 saves only on Flush and on exit.
func NewAutosaver(store Store, model Snapshotter, every int) *Autosaver {
	return &Autosaver{
		store:  store,
		model:  model,
		every:  int64(every),
		log:    logger.New("autosave"),
		saveCh: make(chan struct{}, 1),
	}
}

// Observed records n confirmed sequences and schedules a save when due.
// It never blocks.
func (a *Autosaver) Observed(n int) {
	total := a.pending.Add(int64(n))
	if a.every < 1 || total < a.every {
		return
	}
	select {
	case a.saveCh <- struct{}{}:
	default:
	}
}

// Dirty reports whether observations are waiting to be saved.
func (a *Autosaver) Dirty() bool {
	return a.pending.Load() > 0
}

// Run saves on schedule until ctx is done, then flushes what is left.
func (a *Autosaver) Run(ctx context.Context) error {
	for {
		select {
		case <-a.saveCh:
			if err := a.Flush(); err != nil {
				a.log.Errorf("Autosave failed: %v", err)
			}
		case <-ctx.Done():
			return a.Flush()
		}
	}
}

// Flush saves now if anything changed since the last save.
func (a *Autosaver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.pending.Swap(0)
	if n == 0 {
		return nil
	}
	snap := a.model.Snapshot()
	if err := a.store.Save(snap); err != nil {
		a.pending.Add(n)
		a.lastErr = err
		return err
	}
	a.saves++
	a.lastErr = nil
	a.log.Debugf("Saved %d n-grams to %s after %d observations", len(snap.Entries), a.store.Path(), n)
	return nil
}

// Stats reports how many saves succeeded and how many observations wait.
func (a *Autosaver) Stats() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	failed := 0
	if a.lastErr != nil {
		failed = 1
	}
	return map[string]int{
		"saves":           a.saves,
		"pendingObserves": int(a.pending.Load()),
		"lastSaveFailed":  failed,
	}
}
