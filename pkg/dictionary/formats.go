package dictionary

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bastiangx/nextword/pkg/config"
	"github.com/charmbracelet/log"
)

// FileFormat represents the model file formats on disk
type FileFormat int

const (
	FormatUnknown  FileFormat = iota
	FormatSnapshot            // msgpack-encoded ngram.Snapshot
	FormatSQLite              // SQLite database, one row per n-gram
	FormatText                // Plain text training corpus
)

// FormatInfo contains metadata about a model file format
type FormatInfo struct {
	Format      FileFormat
	Description string
	Extensions  []string
	MinSize     int64 // Minimum expected file size in bytes
}

var supportedFormats = map[FileFormat]FormatInfo{
	FormatSnapshot: {
		Format:      FormatSnapshot,
		Description: "Msgpack Model Snapshot",
		Extensions:  []string{".msgpack", ".mp"},
		MinSize:     1,
	},
	FormatSQLite: {
		Format:      FormatSQLite,
		Description: "SQLite Model Store",
		Extensions:  []string{".db", ".sqlite", ".sqlite3"},
		MinSize:     int64(len(sqliteMagic)),
	},
	FormatText: {
		Format:      FormatText,
		Description: "Plain Text Corpus",
		Extensions:  []string{".txt"},
		MinSize:     1,
	},
}

var sqliteMagic = []byte("SQLite format 3\x00")

func (f FileFormat) String() string {
	if info, ok := supportedFormats[f]; ok {
		return info.Description
	}
	return "unknown"
}

// ValidateFileFormat checks if a file matches the expected format
func ValidateFileFormat(filename string, expectedFormat FileFormat) error {
	fileInfo, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", filename, err)
	}

	formatInfo, exists := supportedFormats[expectedFormat]
	if !exists {
		return fmt.Errorf("unknown format: %v", expectedFormat)
	}

	if fileInfo.Size() < formatInfo.MinSize {
		return fmt.Errorf("file %s is too small (%d bytes) for format %s (minimum: %d bytes)",
			filename, fileInfo.Size(), formatInfo.Description, formatInfo.MinSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	validExt := false
	for _, validExtension := range formatInfo.Extensions {
		if ext == validExtension {
			validExt = true
			break
		}
	}
	if !validExt {
		return fmt.Errorf("file %s has invalid extension %s for format %s (expected: %v)",
			filename, ext, formatInfo.Description, formatInfo.Extensions)
	}

	return validateHeader(filename, expectedFormat)
}

func validateHeader(filename string, format FileFormat) error {
	switch format {
	case FormatSnapshot:
		return validateSnapshotHeader(filename)
	case FormatSQLite:
		return validateSQLiteHeader(filename)
	}
	return nil
}

// checkHeader verifies that an existing file starts the way format does,
// whatever its extension. Missing and empty files pass.
func checkHeader(filename string, format FileFormat) error {
	info, err := os.Stat(filename)
	if err != nil || info.Size() == 0 {
		return nil
	}
	return validateHeader(filename, format)
}

// describeFile names what filename looks like, for log lines.
func describeFile(filename string) string {
	if format, err := DetectFileFormat(filename); err == nil {
		return format.String()
	}
	// Wrong extension: go by the header alone.
	for _, format := range []FileFormat{FormatSQLite, FormatSnapshot} {
		if validateHeader(filename, format) == nil {
			return format.String() + " content"
		}
	}
	return "unrecognised content"
}

func readHeader(filename string, n int) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", filename, err)
	}
	return buf[:read], nil
}

// validateSnapshotHeader expects a msgpack map, which is how a Snapshot is encoded.
func validateSnapshotHeader(filename string) error {
	header, err := readHeader(filename, 1)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		return fmt.Errorf("file %s is empty", filename)
	}
	b := header[0]
	if (b < 0x80 || b > 0x8f) && b != 0xde && b != 0xdf {
		return fmt.Errorf("file %s does not start with a msgpack map (0x%02x)", filename, b)
	}
	log.Debugf("Snapshot file %s validated", filename)
	return nil
}

func validateSQLiteHeader(filename string) error {
	header, err := readHeader(filename, len(sqliteMagic))
	if err != nil {
		return err
	}
	if !bytes.Equal(header, sqliteMagic) {
		return fmt.Errorf("file %s is not a SQLite database", filename)
	}
	log.Debugf("SQLite file %s validated", filename)
	return nil
}

// DetectFileFormat attempts to detect the format of a file
func DetectFileFormat(filename string) (FileFormat, error) {
	for _, format := range []FileFormat{FormatSQLite, FormatSnapshot, FormatText} {
		if err := ValidateFileFormat(filename, format); err == nil {
			return format, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unable to detect format for file %s", filename)
}

// FormatForStore maps a config store name to its file format.
func FormatForStore(store string) FileFormat {
	switch store {
	case config.StoreSQLite:
		return FormatSQLite
	case config.StoreMsgpack, "":
		return FormatSnapshot
	}
	return FormatUnknown
}
