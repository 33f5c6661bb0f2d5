// Package store holds the benchmark's world state: a nested environment
// document addressed by dot paths, a persistent memory key/value space
// shared across tasks, and a small SQLite-backed relational store for
// the canonical entities (accounts, products, orders, cards).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/webtaskbench/internal/logger"
)

// Store is the single mutable state object of a benchmark run. One
// writer at a time; the orchestrator never runs tasks concurrently.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	memory map[string]interface{}
	doc    map[string]interface{}
	log    *logger.Logger
}

// Open opens (or creates) the backing SQLite database and loads any
// persisted memory entries.
func Open(dbPath string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		dbPath: dbPath,
		memory: make(map[string]interface{}),
		doc:    make(map[string]interface{}),
		log:    log.WithPrefix("store"),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadMemory(); err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate ensures the schema exists. Schema lives in one SQL string;
// new columns are added by editing it, there is no version table.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		source TEXT,
		ts TEXT
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL UNIQUE,
		balance REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS products (
		sku TEXT PRIMARY KEY,
		name TEXT,
		price REAL NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		sku TEXT,
		total REAL NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'pending',
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS cards (
		last4 TEXT PRIMARY KEY,
		holder TEXT,
		state TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}
	return nil
}

// LoadSeedFile merges a JSON seed document into the environment
// document. Top-level keys of the seed replace whatever the document
// currently holds for them, so a run is fully rebuildable from its
// seeds.
func (s *Store) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed %s: %w", path, err)
	}

	var seed map[string]interface{}
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range seed {
		s.doc[key] = value
	}

	s.log.Debug("loaded seed %s (%d top-level keys)", filepath.Base(path), len(seed))
	return nil
}

// LoadSeedDir loads every .json file in dir, in lexical order.
func (s *Store) LoadSeedDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read seed directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := s.LoadSeedFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ResetDocument drops the in-memory environment document. Relational
// rows and persisted memory entries survive; only the rebuildable
// document is cleared.
func (s *Store) ResetDocument() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = make(map[string]interface{})
}

// DocumentSnapshot returns a deep copy of the environment document for
// rollback.
func (s *Store) DocumentSnapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.doc).(map[string]interface{})
}

// RestoreDocument replaces the environment document with a snapshot.
func (s *Store) RestoreDocument(snapshot map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = snapshot
}

// DB exposes the underlying handle for the relational helpers used in
// tests and seeding scripts.
func (s *Store) DB() *sql.DB {
	return s.db
}
