package store

import (
	"strconv"
	"strings"
)

// segment is one element of a dot path. A segment may carry a sequence
// index, as in "cards[0]".
type segment struct {
	name     string
	index    int
	hasIndex bool
}

// splitPath parses a dot path like "orders.last.id" or
// "payment.cards[0].status" into segments. Malformed index brackets are
// kept as part of the segment name rather than rejected; lookups on
// such names simply miss.
func splitPath(path string) []segment {
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))

	for _, part := range parts {
		open := strings.Index(part, "[")
		closing := strings.Index(part, "]")
		if open > 0 && closing > open {
			if idx, err := strconv.Atoi(part[open+1 : closing]); err == nil {
				segments = append(segments, segment{name: part[:open], index: idx, hasIndex: true})
				continue
			}
		}
		segments = append(segments, segment{name: part})
	}

	return segments
}

// docGet resolves a path inside a nested document. Missing keys and
// out-of-range indices yield (nil, false); resolution never mutates the
// document.
func docGet(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc

	for _, seg := range splitPath(path) {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg.name]
		if !ok {
			return nil, false
		}

		if seg.hasIndex {
			list, ok := current.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, false
			}
			current = list[seg.index]
		}
	}

	return current, true
}

// docSet writes a value at a path, creating intermediate maps as
// needed. Index segments are not supported for writes; the original
// harness only ever writes map-shaped paths.
func docSet(doc map[string]interface{}, path string, value interface{}) {
	segments := splitPath(path)
	current := doc

	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg.name].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[seg.name] = next
		}
		current = next
	}

	current[segments[len(segments)-1].name] = value
}

// docQuery resolves a path that may contain "*" segments. A wildcard
// fans out over a map's values or a sequence's elements and resolves
// the remainder of the path against each, collecting every hit.
func docQuery(node interface{}, segments []segment) []interface{} {
	if len(segments) == 0 {
		return []interface{}{node}
	}

	seg := segments[0]
	rest := segments[1:]

	if seg.name == "*" {
		var results []interface{}
		switch v := node.(type) {
		case map[string]interface{}:
			for _, child := range v {
				results = append(results, docQuery(child, rest)...)
			}
		case []interface{}:
			for _, child := range v {
				results = append(results, docQuery(child, rest)...)
			}
		}
		return results
	}

	m, ok := node.(map[string]interface{})
	if !ok {
		return nil
	}
	child, ok := m[seg.name]
	if !ok {
		return nil
	}
	if seg.hasIndex {
		list, ok := child.([]interface{})
		if !ok || seg.index < 0 || seg.index >= len(list) {
			return nil
		}
		child = list[seg.index]
	}

	return docQuery(child, rest)
}

// deepCopy clones a document so a snapshot cannot alias live state.
func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
