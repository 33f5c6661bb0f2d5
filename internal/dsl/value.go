package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// toFloat coerces the values seen in memory, SQL rows and JSON
// documents into a float64 for numeric comparison.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toString renders a value the way the comparison grammar expects:
// floats without exponent noise, nil as the empty string.
func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", s)
	}
}

// looseEqual compares numerically when both sides coerce to floats and
// falls back to string equality otherwise.
func looseEqual(actual interface{}, expected interface{}) bool {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if aok && eok {
		return af == ef
	}
	return toString(actual) == toString(expected)
}

// compareNumeric applies a relational operator; both sides must coerce.
func compareNumeric(actual interface{}, expected interface{}, op string) (bool, error) {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if !aok || !eok {
		return false, fmt.Errorf("non-numeric operands for %q: %v, %v", op, actual, expected)
	}

	switch op {
	case ">=":
		return af >= ef, nil
	case "<=":
		return af <= ef, nil
	case ">":
		return af > ef, nil
	case "<":
		return af < ef, nil
	default:
		return false, fmt.Errorf("unsupported numeric operator %q", op)
	}
}

// stripQuotes removes one matched pair of surrounding quotes.
func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
