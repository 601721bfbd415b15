// Package dictionary loads and persists the learned n-gram model: msgpack
// snapshot files, a SQLite store and plain text training corpora.
package dictionary

import (
	"errors"
	"fmt"

	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/charmbracelet/log"
)

// ErrNoSnapshot means the store holds no saved model yet.
var ErrNoSnapshot = errors.New("dictionary: no saved model")

// Store persists model snapshots. Load followed by Restore must give back
// every count exactly.
type Store interface {
	Load() (ngram.Snapshot, error)
	Save(snap ngram.Snapshot) error
	Path() string
	Close() error
}

// Open returns the store named by kind at path.
func Open(kind, path string) (Store, error) {
	switch FormatForStore(kind) {
	case FormatSQLite:
		// Never let the schema setup write into some other kind of file.
		if err := checkHeader(path, FormatSQLite); err != nil {
			return nil, fmt.Errorf("%s holds %s, not a model database: %w", path, describeFile(path), err)
		}
		return OpenSQLite(path)
	case FormatSnapshot:
		return NewSnapshotFile(path), nil
	}
	return nil, &config.Error{Field: "model.store", Value: kind, Reason: "unknown store"}
}

// Origin says where a bootstrapped model's counts came from.
type Origin string

const (
	OriginSnapshot Origin = "snapshot"
	OriginCorpus   Origin = "corpus"
	OriginEmpty    Origin = "empty"
)

// Bootstrap fills model from the store, or from the corpus when the store is
// empty or unreadable. A missing corpus leaves the model empty. Only corpus
// read errors are returned.
func Bootstrap(model *ngram.Model, store Store, corpusPath string) (Origin, error) {
	if store != nil {
		snap, err := store.Load()
		switch {
		case err == nil:
			err = model.Restore(snap)
			if err == nil {
				log.Infof("Loaded model from %s: %d n-grams", store.Path(), len(snap.Entries))
				return OriginSnapshot, nil
			}
			log.Warnf("Ignoring saved model %s: %v", store.Path(), err)
		case errors.Is(err, ErrNoSnapshot):
			log.Debugf("No saved model at %s", store.Path())
		default:
			log.Warnf("Ignoring saved model %s (%s): %v", store.Path(), describeFile(store.Path()), err)
		}
	}

	if corpusPath == "" {
		return OriginEmpty, nil
	}
	stats, err := LoadCorpusFile(corpusPath, model)
	if err != nil {
		return OriginEmpty, fmt.Errorf("failed to load corpus: %w", err)
	}
	if stats.Words == 0 {
		return OriginEmpty, nil
	}
	log.Infof("Trained model from %s: %d lines, %d words", corpusPath, stats.Lines, stats.Words)
	return OriginCorpus, nil
}
