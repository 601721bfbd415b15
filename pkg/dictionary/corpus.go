package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bastiangx/nextword/internal/utils"
)

const maxLineBytes = 1 << 20

// Observer takes confirmed word sequences.
type Observer interface {
	Observe(words []string)
}

// CorpusStats reports what a corpus load consumed.
type CorpusStats struct {
	Lines int
	Words int
}

// LoadCorpus tokenizes r line by line and observes each line as one
// sequence, so n-grams never span a line break.
func LoadCorpus(r io.Reader, obs Observer) (CorpusStats, error) {
	var stats CorpusStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		words := utils.Tokenize(scanner.Text())
		if len(words) == 0 {
			continue
		}
		obs.Observe(words)
		stats.Lines++
		stats.Words += len(words)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed after %d lines: %w", stats.Lines, err)
	}
	return stats, nil
}

// LoadCorpusFile is LoadCorpus on a file. A missing file is not an error.
func LoadCorpusFile(path string, obs Observer) (CorpusStats, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return CorpusStats{}, nil
	}
	if err != nil {
		return CorpusStats{}, err
	}
	defer file.Close()
	return LoadCorpus(file, obs)
}
