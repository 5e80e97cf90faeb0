package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists the registry in a SQLite database. SQLite's own
// locking serializes concurrent writers; each Put runs in a transaction.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS registry_entries (
		hash TEXT PRIMARY KEY,
		artifact_type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		chain_json TEXT NOT NULL,
		hash_input TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS registry_current (
		artifact_type TEXT PRIMARY KEY,
		hash TEXT NOT NULL REFERENCES registry_entries(hash)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_artifact_type
		ON registry_entries(artifact_type);
`

// NewSQLiteBackend opens (creating if needed) a registry database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry db %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(hash string) (*Entry, bool, error) {
	row := b.db.QueryRow(
		`SELECT hash, artifact_type, created_at, chain_json, hash_input
		 FROM registry_entries WHERE hash = ?`, hash)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (b *SQLiteBackend) Put(entry *Entry) error {
	chainJSON, err := json.Marshal(entry.Chain)
	if err != nil {
		return fmt.Errorf("failed to encode chain: %w", err)
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin registry write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO registry_entries (hash, artifact_type, created_at, chain_json, hash_input)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Hash, entry.ArtifactType, entry.CreatedAt.Format(time.RFC3339Nano),
		string(chainJSON), entry.HashInput,
	); err != nil {
		return fmt.Errorf("failed to insert registry entry: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO registry_current (artifact_type, hash) VALUES (?, ?)
		 ON CONFLICT(artifact_type) DO UPDATE SET hash = excluded.hash`,
		entry.ArtifactType, entry.Hash,
	); err != nil {
		return fmt.Errorf("failed to update current index: %w", err)
	}

	return tx.Commit()
}

func (b *SQLiteBackend) Current(artifactType string) (string, bool, error) {
	var hash string
	err := b.db.QueryRow(
		`SELECT hash FROM registry_current WHERE artifact_type = ?`, artifactType,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

func (b *SQLiteBackend) Entries() ([]*Entry, error) {
	rows, err := b.db.Query(
		`SELECT hash, artifact_type, created_at, chain_json, hash_input
		 FROM registry_entries ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var createdAt, chainJSON string
	if err := row.Scan(&entry.Hash, &entry.ArtifactType, &createdAt, &chainJSON, &entry.HashInput); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	entry.CreatedAt = ts
	if err := json.Unmarshal([]byte(chainJSON), &entry.Chain); err != nil {
		return nil, fmt.Errorf("invalid chain data for %s: %w", entry.Hash, err)
	}
	return &entry, nil
}
