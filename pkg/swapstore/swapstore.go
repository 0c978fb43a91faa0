// Package swapstore implements SQLite-backed storage for control blocks
// and swapped-out dataspace pages: the persistence layer a host process
// uses to keep a program's bytecode and an object space's cold data
// resident on disk between runs, the way the teacher's own persistence
// layer keeps instances resident between REPL sessions.
package swapstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dgdvm/core/pkg/control"
)

// ErrNotFound indicates the requested control block or page doesn't exist.
var ErrNotFound = errors.New("swapstore: not found")

// Store is a SQLite-backed collaborator that callers use directly
// (cmd/corevm saves its demo control block through it); pkg/control and
// pkg/dataspace do not reference it, and the interpreter never imports
// this package.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (creating if necessary) a swap store at dbPath.
func Open(dbPath string) (*Store, error) {
	s := &Store{dbPath: dbPath}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("swapstore: opening database: %w", err)
	}
	s.db = db

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("swapstore: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS controls (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("swapstore: creating controls table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pages (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("swapstore: creating pages table: %w", err)
	}

	return s, nil
}

// OpenDefault opens a swap store at the default path, honoring the
// COREVM_SWAP_DB environment variable override the way the teacher's
// persistence layer honors SQLITE_JSON_DB.
func OpenDefault() (*Store, error) {
	dbPath := os.Getenv("COREVM_SWAP_DB")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("swapstore: getting home dir: %w", err)
		}
		dbPath = filepath.Join(home, ".corevm", "swap.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("swapstore: creating state dir: %w", err)
		}
	}
	return Open(dbPath)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveControl persists c under its own name, replacing any prior entry.
func (s *Store) SaveControl(c *control.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := c.Serialize()
	if err != nil {
		return fmt.Errorf("swapstore: serializing control %s: %w", c.Name, err)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO controls (name, data) VALUES (?, ?)",
		c.Name, data,
	)
	if err != nil {
		return fmt.Errorf("swapstore: saving control %s: %w", c.Name, err)
	}
	return nil
}

// LoadControl retrieves a previously saved control block by name.
func (s *Store) LoadControl(name string) (*control.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM controls WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("swapstore: querying control %s: %w", name, err)
	}

	c, err := control.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("swapstore: decoding control %s: %w", name, err)
	}
	return c, nil
}

// DeleteControl removes a control block by name. Deleting a name that
// doesn't exist is not an error.
func (s *Store) DeleteControl(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM controls WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("swapstore: deleting control %s: %w", name, err)
	}
	return nil
}

// ListControls returns the names of every saved control block.
func (s *Store) ListControls() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT name FROM controls")
	if err != nil {
		return nil, fmt.Errorf("swapstore: listing controls: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("swapstore: scanning control name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// NewPageKey mints a fresh key for an anonymous swapped-out page — one
// addressed only by the in-memory handle that paged it out, not by any
// name meaningful on its own (unlike a control block's program name).
// Using a random UUID rather than a counter means keys stay unique
// across process restarts, so a page swapped out by a previous run is
// never accidentally aliased by a new one.
func NewPageKey() string {
	return uuid.NewString()
}

// SavePage persists an opaque swapped-out dataspace page (a CBOR-encoded
// pkg/wire.Snapshot, typically) under key, replacing any prior entry.
func (s *Store) SavePage(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO pages (key, data) VALUES (?, ?)",
		key, data,
	)
	if err != nil {
		return fmt.Errorf("swapstore: saving page %s: %w", key, err)
	}
	return nil
}

// LoadPage retrieves a previously saved page by key.
func (s *Store) LoadPage(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var data []byte
	err := s.db.QueryRow("SELECT data FROM pages WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("swapstore: querying page %s: %w", key, err)
	}
	return data, nil
}

// DeletePage removes a swapped-out page by key once it has been paged
// back in, freeing the backing disk row.
func (s *Store) DeletePage(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM pages WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("swapstore: deleting page %s: %w", key, err)
	}
	return nil
}
