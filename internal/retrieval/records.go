package retrieval

import (
	"strings"
	"time"
)

// Row decode helpers. Graph rows arrive as map[string]any from the store
// boundary; every query below pairs with a decoder built on these instead of
// ad hoc key lookups downstream.

const dateLayout = "2006-01-02"

func rowString(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return ""
	}
}

func rowInt64(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func rowInt64Ptr(row map[string]any, key string) *int64 {
	if row[key] == nil {
		return nil
	}
	v := rowInt64(row, key)
	return &v
}

func rowFloat64(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func rowStrings(row map[string]any, key string) []string {
	raw, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func rowMaps(row map[string]any, key string) []map[string]any {
	raw, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func rowMap(row map[string]any, key string) map[string]any {
	m, _ := row[key].(map[string]any)
	return m
}

// rowDate accepts ISO date strings, time.Time, and driver date types that
// expose Time() (neo4j dbtype.Date).
func rowDate(row map[string]any, key string) *time.Time {
	switch v := row[key].(type) {
	case nil:
		return nil
	case time.Time:
		return &v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return &t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		return nil
	case interface{ Time() time.Time }:
		t := v.Time()
		return &t
	default:
		return nil
	}
}

func formatDate(d time.Time) string {
	return d.UTC().Format(dateLayout)
}
