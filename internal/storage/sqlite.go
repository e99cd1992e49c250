package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open initialises the SQLite database and applies the base schema.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS talks (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            speaker TEXT NOT NULL,
            series TEXT,
            scripture TEXT,
            bible_book TEXT,
            conference TEXT,
            conference_type TEXT,
            collection TEXT,
            recorded_at TIMESTAMP,
            duration_sec REAL NOT NULL DEFAULT 0,
            audio_url TEXT,
            video_url TEXT,
            artwork_url TEXT,
            chapters_url TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_talks_speaker ON talks(speaker);`,
		`CREATE INDEX IF NOT EXISTS idx_talks_conference ON talks(conference);`,
		`CREATE TABLE IF NOT EXISTS downloads (
            talk_id TEXT PRIMARY KEY REFERENCES talks(id) ON DELETE CASCADE,
            enqueued_at TIMESTAMP NOT NULL,
            priority INTEGER NOT NULL DEFAULT 0,
            claimed_at TIMESTAMP,
            retry_count INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS downloaded_talks (
            talk_id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            speaker TEXT NOT NULL,
            series TEXT,
            file_path TEXT NOT NULL,
            size_bytes INTEGER NOT NULL DEFAULT 0,
            hash TEXT,
            created_at TIMESTAMP NOT NULL,
            last_accessed_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS transcripts (
            talk_id TEXT PRIMARY KEY,
            text TEXT NOT NULL,
            language TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS metadata (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}
