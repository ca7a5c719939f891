// Package memory is a persistent translation memory backed by SQLite.
//
// Entries are keyed by a SHA-256 digest of the request key, so identical
// requests across runs are answered without contacting the provider.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultFile is the memory database name inside the project directory.
const DefaultFile = ".gametl-memory.db"

// Store is a translation memory.
type Store struct {
	db *sql.DB
}

// Open creates or opens the memory database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// A single connection serializes writers from parallel page workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS translations (
		key TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get returns the remembered translation for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	k := digest(key)
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM translations WHERE key = ?`, k).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading memory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE translations SET hits = hits + 1 WHERE key = ?`, k); err != nil {
		return "", false, fmt.Errorf("updating memory: %w", err)
	}
	return text, true, nil
}

// Put remembers text for key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key, text string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO translations (key, text, created_at, hits) VALUES (?, ?, ?, 0)
	ON CONFLICT(key) DO UPDATE SET text = excluded.text, created_at = excluded.created_at`,
		digest(key), text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing memory: %w", err)
	}
	return nil
}

// Stats returns the number of entries and the total number of hits.
func (s *Store) Stats(ctx context.Context) (entries, hits int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(hits), 0) FROM translations`).Scan(&entries, &hits)
	if err != nil {
		return 0, 0, fmt.Errorf("reading memory stats: %w", err)
	}
	return entries, hits, nil
}

// Prune removes entries older than maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translations WHERE created_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("pruning memory: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
