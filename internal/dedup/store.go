// Package dedup provides the persistent dedup/cluster store backing the
// pipeline's at-most-once guarantee.
package dedup

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists three relations in one SQLite file: seen item keys, cluster
// hit counts, and arbitrary key/value settings (poll cursors). NOT an
// interface - concrete type.
// Thread-safety: all methods are safe for concurrent use via internal mutex;
// callers never need external locking.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes all database operations (single-writer discipline)
}

// Open creates a Store at the given database path, creating tables as needed.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen (
		provider TEXT NOT NULL,
		item_id TEXT NOT NULL,
		first_seen REAL NOT NULL,
		PRIMARY KEY (provider, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_seen_first_seen ON seen(first_seen);

	CREATE TABLE IF NOT EXISTS clusters (
		hash TEXT PRIMARY KEY,
		hit_count INTEGER NOT NULL DEFAULT 1,
		last_seen REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_last_seen ON clusters(last_seen);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// MarkSeen records (provider, itemID) as ingested. Returns true when this
// call performed the insert - the item is new and must be processed - and
// false when the key already existed and the caller must discard the item.
// The check-and-insert is a single INSERT OR IGNORE so two concurrent pollers
// cannot both claim the same item.
func (s *Store) MarkSeen(provider, itemID string, ts float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"INSERT OR IGNORE INTO seen (provider, item_id, first_seen) VALUES (?, ?, ?)",
		provider, itemID, ts,
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark seen rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClusterTouch increments (or creates at 1) the hit counter for a cluster
// hash. Returns the post-increment count and the previous last-seen
// timestamp, 0 when the cluster was not seen before.
func (s *Store) ClusterTouch(hash string, ts float64) (int, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prevCount int
	var prevSeen float64
	err := s.db.QueryRow("SELECT hit_count, last_seen FROM clusters WHERE hash = ?", hash).
		Scan(&prevCount, &prevSeen)
	switch {
	case err == sql.ErrNoRows:
		prevCount, prevSeen = 0, 0
	case err != nil:
		return 0, 0, fmt.Errorf("cluster lookup: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO clusters (hash, hit_count, last_seen) VALUES (?, 1, ?)
		ON CONFLICT(hash) DO UPDATE SET
			hit_count = hit_count + 1,
			last_seen = excluded.last_seen
	`, hash, ts)
	if err != nil {
		return 0, 0, fmt.Errorf("cluster touch: %w", err)
	}

	return prevCount + 1, prevSeen, nil
}

// GetKV returns the stored value for key, or empty string when unset.
func (s *Store) GetKV(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV stores a setting that survives process restarts.
func (s *Store) SetKV(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}

// PruneSeen deletes seen rows older than keepSeconds. keepSeconds=0 deletes
// everything (full reset). Pruning is age-based only; the scheduler must
// invoke it periodically or storage grows without bound.
func (s *Store) PruneSeen(keepSeconds int) (int64, error) {
	return s.pruneTable("seen", "first_seen", keepSeconds)
}

// PruneClusters deletes cluster rows older than keepSeconds. keepSeconds=0
// deletes everything.
func (s *Store) PruneClusters(keepSeconds int) (int64, error) {
	return s.pruneTable("clusters", "last_seen", keepSeconds)
}

func (s *Store) pruneTable(table, tsColumn string, keepSeconds int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result sql.Result
	var err error
	if keepSeconds <= 0 {
		result, err = s.db.Exec("DELETE FROM " + table)
	} else {
		cutoff := float64(time.Now().Unix() - int64(keepSeconds))
		result, err = s.db.Exec("DELETE FROM "+table+" WHERE "+tsColumn+" < ?", cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune %s rows affected: %w", table, err)
	}
	return deleted, nil
}

// SeenCount returns the number of seen rows, for status surfaces.
func (s *Store) SeenCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM seen").Scan(&count)
	return count, err
}

// ClusterCount returns the number of cluster rows, for status surfaces.
func (s *Store) ClusterCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM clusters").Scan(&count)
	return count, err
}
