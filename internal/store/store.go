// Package store is the SQLite-backed persistent store: downloads,
// download_files, articles, cached_passwords, and the ambient
// seen_items/rss_feeds tables an external RSS collaborator could use.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// maxBatchRows is the SQLite bound-parameter limit (999) divided down for
// the widest table this store batch-inserts into, leaving headroom.
const maxBatchRows = 166

type PersistentStore struct {
	db *sql.DB
}

func NewPersistentStore(dbPath string) (*PersistentStore, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &PersistentStore{db: db}

	if err := store.RunMigrations(); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}

// chunks splits n into batches no larger than maxBatchRows, returning
// [lo, hi) bounds.
func chunks(n int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += maxBatchRows {
		hi := lo + maxBatchRows
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}
