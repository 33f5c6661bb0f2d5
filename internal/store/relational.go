package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// route maps a path prefix to a relational table. The routing table is
// data: adding a canonical entity means adding a row here, not a code
// branch. Paths outside the table resolve against the nested document.
type route struct {
	prefix       string
	table        string
	keyColumn    string
	defaultField string
	// fields whitelists addressable columns so a path segment can
	// never smuggle SQL into a query.
	fields map[string]bool
}

var routes = []route{
	{
		prefix:       "banking.balance.",
		table:        "accounts",
		keyColumn:    "type",
		defaultField: "balance",
		fields:       map[string]bool{"balance": true},
	},
	{
		prefix:       "products.",
		table:        "products",
		keyColumn:    "sku",
		defaultField: "stock",
		fields:       map[string]bool{"stock": true, "price": true, "name": true},
	},
	{
		prefix:       "orders.",
		table:        "orders",
		keyColumn:    "id",
		defaultField: "state",
		fields:       map[string]bool{"state": true, "total": true, "sku": true},
	},
	{
		prefix:       "cards.",
		table:        "cards",
		keyColumn:    "last4",
		defaultField: "state",
		fields:       map[string]bool{"state": true, "holder": true},
	},
}

// routeFor returns the relational route covering path, if any.
func routeFor(path string) (route, bool) {
	for _, r := range routes {
		if strings.HasPrefix(path, r.prefix) {
			return r, true
		}
	}
	return route{}, false
}

// splitEntityPath extracts (entityKey, field) from a routed path. For
// "banking.balance.checking" the key is the trailing segment and the
// field is the route default; for "products.WM-5521.stock" the key is
// the segment after the prefix and the field follows it.
func splitEntityPath(r route, path string) (string, string) {
	rest := strings.TrimPrefix(path, r.prefix)
	parts := strings.SplitN(rest, ".", 2)

	key := parts[0]
	field := r.defaultField
	if len(parts) == 2 && parts[1] != "" {
		field = parts[1]
	}
	if !r.fields[field] {
		field = r.defaultField
	}
	return key, field
}

// EnvState reads a single environment value. Routed prefixes hit the
// relational store, everything else the nested document. A miss is
// (nil, nil); only genuine storage failures surface as errors.
func (s *Store) EnvState(path string) (interface{}, error) {
	if r, ok := routeFor(path); ok {
		key, field := splitEntityPath(r, path)
		if key == "*" {
			return s.scanAll(r, field)
		}
		return s.scanOne(r, key, field)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, _ := docGet(s.doc, path)
	return value, nil
}

// SetEnvState writes a single environment value through the same
// routing table. Relational writes update existing rows only, matching
// how the simulated world creates rows out-of-band.
func (s *Store) SetEnvState(path string, value interface{}) error {
	if r, ok := routeFor(path); ok {
		key, field := splitEntityPath(r, path)

		var err error
		if r.table == "orders" {
			_, err = s.db.Exec(
				fmt.Sprintf("UPDATE orders SET %s = ?, updated_at = ? WHERE id = ?", field),
				value, time.Now().Format(time.RFC3339), key,
			)
		} else {
			_, err = s.db.Exec(
				fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", r.table, field, r.keyColumn),
				value, key,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", path, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docSet(s.doc, path, value)
	return nil
}

// QueryEnvironment resolves a path that may contain "*" wildcard
// segments against the nested document, fanning out over map values or
// sequence elements. Relational prefixes delegate to EnvState so the
// caller never needs to know which backend holds a path.
func (s *Store) QueryEnvironment(path string) interface{} {
	if _, ok := routeFor(path); ok {
		value, err := s.EnvState(path)
		if err != nil {
			s.log.Warn("environment query failed for %s: %v", path, err)
			return nil
		}
		return value
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := splitPath(path)
	if !strings.Contains(path, "*") {
		value, _ := docGet(s.doc, path)
		return value
	}

	results := docQuery(s.doc, segments)
	if results == nil {
		return nil
	}
	return results
}

// Query resolves an evaluator channel/path pair: channel "env" reads
// the environment state, any other channel reads memory. This makes
// the store usable directly as the expression evaluator's environment
// collaborator.
func (s *Store) Query(channel, path string) (interface{}, error) {
	if channel == "env" {
		return s.EnvState(path)
	}
	return s.GetMemory(path, nil), nil
}

func (s *Store) scanOne(r route, key, field string) (interface{}, error) {
	var value interface{}
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", field, r.table, r.keyColumn),
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", r.table, field, err)
	}
	return normalizeSQLValue(value), nil
}

func (s *Store) scanAll(r route, field string) (interface{}, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM %s", field, r.table))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.table, err)
	}
	defer rows.Close()

	var values []interface{}
	for rows.Next() {
		var value interface{}
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, normalizeSQLValue(value))
	}
	return values, rows.Err()
}

// normalizeSQLValue converts driver byte slices to strings so routed
// and document-backed reads compare identically.
func normalizeSQLValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// Seeding helpers used by tests and the environment daemon.

// SeedAccount inserts or resets an account balance.
func (s *Store) SeedAccount(accountType string, balance float64) error {
	_, err := s.db.Exec(
		"INSERT INTO accounts (type, balance) VALUES (?, ?) ON CONFLICT(type) DO UPDATE SET balance = excluded.balance",
		accountType, balance,
	)
	return err
}

// SeedProduct inserts or replaces a product row.
func (s *Store) SeedProduct(sku, name string, price float64, stock int) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO products (sku, name, price, stock) VALUES (?, ?, ?, ?)",
		sku, name, price, stock,
	)
	return err
}

// SeedCard inserts or replaces a card row.
func (s *Store) SeedCard(last4, holder, state string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cards (last4, holder, state) VALUES (?, ?, ?)",
		last4, holder, state,
	)
	return err
}

// UpsertOrder records an order created during task execution so later
// routed reads and returns can see it.
func (s *Store) UpsertOrder(id, sku string, total float64, state string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO orders (id, sku, total, state, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, sku, total, state, time.Now().Format(time.RFC3339),
	)
	return err
}
