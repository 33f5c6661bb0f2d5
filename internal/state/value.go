package state

import (
	"strconv"
	"strings"
)

// toFloat coerces the numeric shapes SQLite and JSON hand back.
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

// formatAmount renders an amount without trailing zero noise, so error
// messages read "10 - 50 < 0" rather than "10.000000 - 50.000000 < 0".
func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
