package dictionary

import (
	"errors"
	"fmt"
	"os"

	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/ngram"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotFile stores the model as one msgpack document. Saves replace the
// file atomically.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile returns a store backed by path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the file location.
func (f *SnapshotFile) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file returns ErrNoSnapshot.
func (f *SnapshotFile) Load() (ngram.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return ngram.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return ngram.Snapshot{}, fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}
	if err := checkHeader(f.path, FormatSnapshot); err != nil {
		return ngram.Snapshot{}, fmt.Errorf("%w: %v", ngram.ErrModelCorruption, err)
	}
	var snap ngram.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return ngram.Snapshot{}, fmt.Errorf("%w: decoding %s: %v", ngram.ErrModelCorruption, f.path, err)
	}
	return snap, nil
}

// Save writes snap.
func (f *SnapshotFile) Save(snap ngram.Snapshot) error {
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := utils.WriteFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", f.path, err)
	}
	return nil
}

// Close is a no-op; every Save is complete on return.
func (f *SnapshotFile) Close() error {
	return nil
}
