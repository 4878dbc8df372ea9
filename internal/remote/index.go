// Package remote pushes finished daily artifacts to the remote store.
// Delivery is at-least-once: rows are upserted keyed by file path, and a
// local content-hash index keeps an unchanged tree from producing any
// network traffic at all.
package remote

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Index remembers the content hash last synced per file.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the sync index database in dataDir. Pass
// ":memory:" for an in-memory index (used by tests).
func OpenIndex(dataDir string) (*Index, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sync-index.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sync index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sync index: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS synced_files (
		file_path TEXT PRIMARY KEY,
		sha256    TEXT NOT NULL,
		synced_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating synced_files table: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// LastHash returns the hash recorded for path, or "" when never synced.
func (ix *Index) LastHash(path string) (string, error) {
	var hash string
	err := ix.db.QueryRow(`SELECT sha256 FROM synced_files WHERE file_path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading sync index: %w", err)
	}
	return hash, nil
}

// Record stores the hash just synced for path.
func (ix *Index) Record(path, hash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := ix.db.Exec(`
		INSERT INTO synced_files (file_path, sha256, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET sha256 = excluded.sha256, synced_at = excluded.synced_at`,
		path, hash, now,
	)
	if err != nil {
		return fmt.Errorf("recording sync hash: %w", err)
	}
	return nil
}
