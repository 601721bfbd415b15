package dictionary

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/ngram"

	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ngrams (
	context TEXT NOT NULL,
	next    TEXT NOT NULL,
	count   INTEGER NOT NULL CHECK (count > 0),
	PRIMARY KEY (context, next)
);`

// SQLiteStore keeps the model in a SQLite database, one row per n-gram.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// openDB opens a single SQLite database with WAL journaling.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer; the model is saved from a single goroutine anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Save replaces the stored counts with snap in one transaction.
func (s *SQLiteStore) Save(snap ngram.Snapshot) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM ngrams`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO ngrams (context, next, count) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range snap.Entries {
		if _, err = stmt.Exec(strings.Join(e.Context, " "), e.Next, e.Count); err != nil {
			return fmt.Errorf("failed to store %v -> %s: %w", e.Context, e.Next, err)
		}
	}

	upsert := `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err = tx.Exec(upsert, "order", snap.Order); err != nil {
		return err
	}
	if _, err = tx.Exec(upsert, "tokens", snap.Tokens); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads every stored count. An empty database returns ErrNoSnapshot.
func (s *SQLiteStore) Load() (ngram.Snapshot, error) {
	var snap ngram.Snapshot
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'order'`).Scan(&snap.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, err
	}
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'tokens'`).Scan(&snap.Tokens); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap, err
	}

	rows, err := s.db.Query(`SELECT context, next, count FROM ngrams ORDER BY context, next`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ctx   string
			entry ngram.Entry
		)
		if err := rows.Scan(&ctx, &entry.Next, &entry.Count); err != nil {
			return snap, fmt.Errorf("%w: %v", ngram.ErrModelCorruption, err)
		}
		entry.Context = strings.Fields(ctx)
		snap.Entries = append(snap.Entries, entry)
	}
	return snap, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
