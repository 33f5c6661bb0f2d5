package dsl

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	existsRe    = regexp.MustCompile(`^exists\(["'](.+?)["']\)$`)
	textRe      = regexp.MustCompile(`^text\(['"](.+?)['"]\)\s*(==|!=|includes)\s*['"](.*?)['"]$`)
	textMemRe   = regexp.MustCompile(`^text\(["'](.+?)["']\)\s*==\s*mem\(['"](.+?)['"]\)$`)
	attrRe      = regexp.MustCompile(`^attr\(["'](.+?)["'],\s*["'](.+?)["']\)\s*(==|!=)\s*["'](.+?)["']$`)
	countRe     = regexp.MustCompile(`^count\(['"](.+?)['"]\)\s*(>=|<=|==|>|<)\s*(\d+)$`)
	urlRe       = regexp.MustCompile(`^url\(\)\.includes\(['"](.+?)['"]\)$`)
	memRe       = regexp.MustCompile(`^mem\(['"](.+?)['"]\)\s*(==|!=|>=|<=|>|<|includes)\s*(.*)$`)
	memMethodRe = regexp.MustCompile(`^mem\(['"](.+?)['"]\)\.includes\(['"](.+?)['"]\)$`)
	memRefRe    = regexp.MustCompile(`^mem\(['"](.+?)['"]\)$`)
	jsonRe      = regexp.MustCompile(`^json\(['"](.+?)['"]\s*,\s*['"](.+?)['"]\)\s*(==|!=|>=|<=|>|<|includes)\s*(.*)$`)
	timeSinceRe = regexp.MustCompile(`^time_(since|until)\(['"](.+?)['"]\)\s*(>=|<=|==|>|<)\s*(\d+(?:\.\d+)?)$`)
)

// evalAtom interprets a single non-decomposable assertion. Collaborator
// failures yield false; only unmatched or malformed input is an error.
func (e *Evaluator) evalAtom(expr string) (bool, error) {
	if m := existsRe.FindStringSubmatch(expr); m != nil {
		count, err := e.page.LocatorCount(m[1])
		if err != nil {
			return false, nil
		}
		return count > 0, nil
	}

	if m := textRe.FindStringSubmatch(expr); m != nil {
		selector, op, expected := m[1], m[2], m[3]
		actual, err := e.page.InnerText(selector)
		if err != nil {
			return false, nil
		}
		switch op {
		case "==":
			if actual != expected {
				e.log.Debug("text mismatch on %s: actual %q, expected %q", selector, actual, expected)
			}
			return actual == expected, nil
		case "!=":
			return actual != expected, nil
		default:
			return strings.Contains(actual, expected), nil
		}
	}

	if m := textMemRe.FindStringSubmatch(expr); m != nil {
		actual, err := e.page.InnerText(m[1])
		if err != nil {
			return false, nil
		}
		expected := e.memory.GetMemory(m[2], nil)
		return actual == toString(expected), nil
	}

	if m := attrRe.FindStringSubmatch(expr); m != nil {
		selector, name, op, expected := m[1], m[2], m[3], m[4]
		actual, ok, err := e.page.GetAttribute(selector, name)
		if err != nil {
			return false, nil
		}
		if op == "==" {
			return ok && actual == expected, nil
		}
		return !ok || actual != expected, nil
	}

	if m := countRe.FindStringSubmatch(expr); m != nil {
		threshold, _ := strconv.Atoi(m[3])
		actual, err := e.page.LocatorCount(m[1])
		if err != nil {
			return false, nil
		}
		switch m[2] {
		case ">=":
			return actual >= threshold, nil
		case "<=":
			return actual <= threshold, nil
		case "==":
			return actual == threshold, nil
		case ">":
			return actual > threshold, nil
		default:
			return actual < threshold, nil
		}
	}

	if m := urlRe.FindStringSubmatch(expr); m != nil {
		url, err := e.page.CurrentURL()
		if err != nil {
			return false, nil
		}
		return strings.Contains(url, m[1]), nil
	}

	if m := memMethodRe.FindStringSubmatch(expr); m != nil {
		actual := e.memory.GetMemory(m[1], nil)
		return strings.Contains(toString(actual), m[2]), nil
	}

	if m := memRe.FindStringSubmatch(expr); m != nil {
		return e.evalMem(m[1], m[2], strings.TrimSpace(m[3]))
	}

	if m := jsonRe.FindStringSubmatch(expr); m != nil {
		return e.evalJSON(m[1], m[2], m[3], strings.TrimSpace(m[4]))
	}

	if m := timeSinceRe.FindStringSubmatch(expr); m != nil {
		return e.evalTime(m[1], m[2], m[3], m[4])
	}

	return false, fmt.Errorf("%w: %s", ErrUnknownExpression, expr)
}

// evalMem compares a memory value against a literal or another mem()
// reference. Equality tries numbers first with tolerant coercion and
// falls back to strings; includes is a substring check.
func (e *Evaluator) evalMem(key, op, rawExpected string) (bool, error) {
	actual := e.memory.GetMemory(key, nil)

	var expected interface{}
	if ref := memRefRe.FindStringSubmatch(rawExpected); ref != nil {
		expected = e.memory.GetMemory(ref[1], nil)
	} else {
		expected = stripQuotes(rawExpected)
	}

	// A stored boolean compares against the words true/false.
	if b, ok := actual.(bool); ok && (op == "==" || op == "!=") {
		if s, isStr := expected.(string); isStr {
			switch strings.ToLower(s) {
			case "true":
				return b == (op == "=="), nil
			case "false":
				return b != (op == "=="), nil
			}
		}
	}

	switch op {
	case "==":
		return looseEqual(actual, expected), nil
	case "!=":
		return !looseEqual(actual, expected), nil
	case "includes":
		return strings.Contains(toString(actual), toString(expected)), nil
	default:
		return compareNumeric(actual, expected, op)
	}
}

// evalJSON queries the environment channel and compares. The literal is
// parsed as JSON first so lists and numbers compare structurally; raw
// string comparison is the fallback. Collaborator failures are false.
func (e *Evaluator) evalJSON(channel, path, op, rawExpected string) (bool, error) {
	actual, err := e.env.Query(channel, path)
	if err != nil {
		e.log.Debug("json query failed for %s/%s: %v", channel, path, err)
		return false, nil
	}

	var expected interface{}
	normalized := strings.ReplaceAll(rawExpected, "'", `"`)
	if err := json.Unmarshal([]byte(normalized), &expected); err != nil {
		expected = stripQuotes(rawExpected)
	}

	switch op {
	case "==":
		if looseEqual(actual, expected) {
			return true, nil
		}
		return reflect.DeepEqual(actual, expected), nil
	case "!=":
		return !looseEqual(actual, expected) && !reflect.DeepEqual(actual, expected), nil
	case "includes":
		if list, ok := actual.([]interface{}); ok {
			for _, item := range list {
				if looseEqual(item, expected) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(toString(actual), toString(expected)), nil
	default:
		ok, err := compareNumeric(actual, expected, op)
		if err != nil {
			// Fall back to lexicographic comparison like the raw
			// string channel values.
			return compareStrings(toString(actual), toString(expected), op), nil
		}
		return ok, nil
	}
}

// evalTime handles time_since/time_until atoms over a memory timestamp.
// A missing or unparsable timestamp behaves as "just now" for
// time_since and "far in the future" for time_until.
func (e *Evaluator) evalTime(kind, key, op, rawThreshold string) (bool, error) {
	threshold, _ := strconv.ParseFloat(rawThreshold, 64)

	var seconds float64
	raw := toString(e.memory.GetMemory(key, nil))
	ts, err := time.Parse(time.RFC3339, raw)
	if kind == "since" {
		if err == nil {
			seconds = e.clock.Now().Sub(ts).Seconds()
		}
	} else {
		seconds = float64(365 * 24 * 3600)
		if err == nil {
			seconds = ts.Sub(e.clock.Now()).Seconds()
		}
	}

	switch op {
	case ">=":
		return seconds >= threshold, nil
	case "<=":
		return seconds <= threshold, nil
	case "==":
		return seconds == threshold, nil
	case ">":
		return seconds > threshold, nil
	default:
		return seconds < threshold, nil
	}
}

func compareStrings(a, b, op string) bool {
	switch op {
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a < b
	}
}
