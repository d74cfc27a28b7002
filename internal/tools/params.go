package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Models emit numbers as JSON numbers, numeric strings ("12", "12,5",
// "120€") or bracketed IDs ("[12]"); the helpers below accept all of them.

// stringParam returns the first non-empty string-like value among keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := params[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64, int, int64, json.Number:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// floatParam returns the first numeric value among keys. present reports
// whether any of the keys was set at all, so callers can tell "missing" from
// "invalid".
func floatParam(params map[string]any, keys ...string) (f float64, ok, present bool) {
	for _, k := range keys {
		v, exists := params[k]
		if !exists || v == nil {
			continue
		}
		present = true
		if f, ok := toFloat(v); ok {
			return f, true, true
		}
	}
	return 0, false, present
}

// idParam returns a positive integer ID.
func idParam(params map[string]any, key string) (int64, bool) {
	v, exists := params[key]
	if !exists || v == nil {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseNumber(n)
	}
	return 0, false
}

var numberCleaner = strings.NewReplacer("€", "", "$", "", "[", "", "]", "", " ", "")

func parseNumber(s string) (float64, bool) {
	s = numberCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// statesParam reads a state filter given as a string or a list of strings.
func statesParam(v any) []string {
	switch s := v.(type) {
	case string:
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
	case []string:
		return append([]string(nil), s...)
	case []any:
		var out []string
		for _, x := range s {
			if str, ok := x.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
		return out
	}
	return nil
}

// num renders a float without a trailing ".0" for integral values.
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
