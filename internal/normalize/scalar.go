// Package normalize converts raw staged records into canonical typed entities
// and deduplicates them by identity.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// CoerceBool normalizes a loosely-typed flag value. Accepts booleans, the
// strings "true"/"false" (case-insensitive) and numeric 1/0. Anything else
// maps to false; the second return reports whether a lossy coercion happened.
func CoerceBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, false
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, false
		case "false", "0":
			return false, false
		}
		return false, true
	case float64:
		if t == 1 {
			return true, false
		}
		if t == 0 {
			return false, false
		}
		return false, true
	case json.Number:
		return CoerceBool(t.String())
	case nil:
		return false, false
	}
	return false, true
}

// CoerceFloat normalizes a loosely-typed numeric value. String values may
// carry US ("1,234.56") or EU ("1.234,56") separators; the separator that
// appears last is taken as the decimal point and every earlier separator of
// either kind is stripped as a thousands separator. Non-parseable values
// yield nil.
func CoerceFloat(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
		return nil
	case string:
		return parseNumericString(t)
	}
	return nil
}

func parseNumericString(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	if lastDot >= 0 || lastComma >= 0 {
		decimal := lastDot
		if lastComma > lastDot {
			decimal = lastComma
		}
		var b strings.Builder
		for i, r := range s {
			switch {
			case i == decimal:
				b.WriteByte('.')
			case r == '.' || r == ',':
				// thousands separator
			default:
				b.WriteRune(r)
			}
		}
		s = b.String()
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// CleanString trims the string, collapses internal whitespace runs to a
// single space and strips non-printable control characters.
func CleanString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseStringList parses a list-valued field into an ordered string slice.
// The field may arrive as a real JSON array or as a textual encoding with
// single quotes ("['YES','NO']"). A parse failure yields an empty slice.
func ParseStringList(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, CleanString(s))
			}
		}
		return out
	case string:
		var raw []string
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			if err := json.Unmarshal([]byte(singleToDoubleQuotes(t)), &raw); err != nil {
				return nil
			}
		}
		out := make([]string, 0, len(raw))
		for _, e := range raw {
			out = append(out, CleanString(e))
		}
		return out
	}
	return nil
}

// ParseFloatList parses a list-valued numeric field into an ordered float
// slice, applying CoerceFloat per element. A parse failure on the whole field
// yields an empty slice; a non-parseable element is skipped.
func ParseFloatList(v interface{}) []float64 {
	elems := func(raw []interface{}) []float64 {
		out := make([]float64, 0, len(raw))
		for _, e := range raw {
			if f := CoerceFloat(e); f != nil {
				out = append(out, *f)
			}
		}
		return out
	}

	switch t := v.(type) {
	case []interface{}:
		return elems(t)
	case string:
		var raw []interface{}
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			if err := json.Unmarshal([]byte(singleToDoubleQuotes(t)), &raw); err != nil {
				return nil
			}
		}
		return elems(raw)
	}
	return nil
}

func singleToDoubleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

// timestampLayouts covers the ISO-8601 shapes the source API emits
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 text into a UTC timestamp. Unparseable
// values yield nil.
func ParseTimestamp(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
