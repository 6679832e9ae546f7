package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

type entryKey struct {
	category string
	key      string
}

// SQLite stores values in a single kv table.
type SQLite struct {
	db      *sql.DB
	mu      sync.Mutex
	pending map[entryKey]json.RawMessage
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: writes are batched, and a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		category TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (category, key)
	) WITHOUT ROWID;
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{
		db:      db,
		pending: make(map[entryKey]json.RawMessage),
	}, nil
}

func (s *SQLite) Get(category, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	if v, ok := s.pending[entryKey{category, key}]; ok {
		s.mu.Unlock()
		return v, true, nil
	}
	s.mu.Unlock()

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE category = ? AND key = ?`, category, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", category, key, err)
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLite) Set(category, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("set %s/%s: invalid JSON value", category, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[entryKey{category, key}] = append(json.RawMessage(nil), value...)
	return nil
}

// Save writes every pending value in one transaction.
func (s *SQLite) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO kv (category, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	for k, v := range s.pending {
		if _, err := stmt.Exec(k.category, k.key, []byte(v)); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("write %s/%s: %w", k.category, k.key, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	clear(s.pending)
	return nil
}

// Close saves pending values and closes the database.
func (s *SQLite) Close() error {
	saveErr := s.Save()
	closeErr := s.db.Close()
	return errors.Join(saveErr, closeErr)
}
