package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// unwrap peels the {"value": ...} envelope some producers store memory
// entries in. Entries carrying provenance fields next to "value" are
// unwrapped the same way; readers never see the envelope.
func unwrap(entry interface{}) interface{} {
	if m, ok := entry.(map[string]interface{}); ok {
		if v, ok := m["value"]; ok {
			return v
		}
	}
	return entry
}

// GetMemory resolves a memory key. Flat keys written verbatim by task
// executors win over dot-path traversal; both representations unwrap
// transparently. A miss returns def, never an error.
func (s *Store) GetMemory(key string, def interface{}) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMemoryLocked(key, def)
}

func (s *Store) getMemoryLocked(key string, def interface{}) interface{} {
	if entry, ok := s.memory[key]; ok {
		return unwrap(entry)
	}

	var current interface{} = s.memory
	for _, seg := range splitPath(key) {
		m, ok := current.(map[string]interface{})
		if !ok {
			return def
		}
		current, ok = m[seg.name]
		if !ok {
			return def
		}
		if seg.hasIndex {
			list, ok := current.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return def
			}
			current = list[seg.index]
		}
	}

	// A traversal can land on a wrapped leaf as well.
	if m, ok := current.(map[string]interface{}); ok {
		if v, ok := m["value"]; ok && len(m) == 1 {
			return v
		}
	}
	return current
}

// SetMemory writes a value at a dot path, creating intermediate maps.
func (s *Store) SetMemory(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docSet(s.memory, key, value)
}

// DeleteMemory removes a flat key from the memory space and from the
// memory_kv table, so the key stays gone across reopens. Entries are
// otherwise never deleted for the life of a run.
func (s *Store) DeleteMemory(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, key)
	if _, err := s.db.Exec("DELETE FROM memory_kv WHERE key = ?", key); err != nil {
		s.log.Error("failed to delete memory entry %s: %v", key, err)
	}
}

// MemorySnapshot returns a deep copy of the memory space for rollback.
func (s *Store) MemorySnapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.memory).(map[string]interface{})
}

// RestoreMemory replaces the memory space with a prior snapshot.
func (s *Store) RestoreMemory(snapshot map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = snapshot
}

// loadMemory hydrates the in-memory cache from the memory_kv table.
func (s *Store) loadMemory() error {
	rows, err := s.db.Query("SELECT key, value FROM memory_kv")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return err
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			// Pre-JSON rows are plain strings.
			value = raw
		}
		s.memory[key] = value
	}
	return rows.Err()
}

// SaveMemory persists the current memory space. Nested subtrees are
// stored as JSON under their top-level key.
func (s *Store) SaveMemory() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().Format(time.RFC3339)
	for key, value := range s.memory {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode memory entry %s: %w", key, err)
		}
		if _, err := s.db.Exec(
			"INSERT OR REPLACE INTO memory_kv (key, value, source, ts) VALUES (?, ?, ?, ?)",
			key, string(raw), "system", now,
		); err != nil {
			return fmt.Errorf("failed to persist memory entry %s: %w", key, err)
		}
	}
	return nil
}
