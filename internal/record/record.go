// Package record defines the generic data model shared by the sync engine:
// upstream records, point-in-time snapshots, and classified changes.
package record

import (
	"encoding/json"
	"strconv"
	"time"
)

// Well-known field names every upstream entity payload carries.
const (
	// FieldKey is the stable unique key of a record (code or id).
	FieldKey = "code"

	// FieldStatus is the primary status field used for transition detection.
	FieldStatus = "status"

	// FieldTotal is the monetary total / amount field.
	FieldTotal = "total"

	// FieldModifiedAt is the upstream modification timestamp.
	FieldModifiedAt = "modified_at"

	// FieldLines holds the nested line-item list, when present.
	FieldLines = "lines"
)

// Record is one upstream entity instance, an opaque field-name to value
// mapping produced by the upstream client. Consumers treat it read-only.
type Record map[string]any

// LineItem is one entry of a record's nested sub-list (e.g. an order line).
type LineItem struct {
	ItemID   string  `json:"item_id"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Key returns the record's unique key, or "" if absent.
func (r Record) Key() string {
	return r.Str(FieldKey)
}

// Str returns the named field coerced to a string. Missing or non-string
// values of other scalar kinds are formatted; nil yields "".
func (r Record) Str(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// Num returns the named field coerced to a float64. Invalid or missing
// values yield the provided default.
func (r Record) Num(field string, def float64) float64 {
	v, ok := r[field]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// Status returns the record's primary status as an integer, -1 if absent.
func (r Record) Status() int {
	return int(r.Num(FieldStatus, -1))
}

// Total returns the record's total field, 0 if absent or invalid.
func (r Record) Total() float64 {
	return r.Num(FieldTotal, 0)
}

// ModifiedAt returns the record's modification timestamp. The second return
// value reports whether the field was present and parseable.
func (r Record) ModifiedAt() (time.Time, bool) {
	v, ok := r[FieldModifiedAt]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case float64:
		// Epoch seconds from JSON numbers.
		return time.Unix(int64(t), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Lines returns the record's nested line items, nil when the record has no
// sub-list. Entries that are not object-shaped are skipped.
func (r Record) Lines() []LineItem {
	v, ok := r[FieldLines]
	if !ok || v == nil {
		return nil
	}
	switch raw := v.(type) {
	case []LineItem:
		return raw
	case []any:
		lines := make([]LineItem, 0, len(raw))
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			item := Record(m)
			lines = append(lines, LineItem{
				ItemID:   item.Str("item_id"),
				Quantity: item.Num("quantity", 0),
				Price:    item.Num("price", 0),
			})
		}
		return lines
	default:
		return nil
	}
}

// HasLines reports whether the record carries a nested sub-list at all,
// regardless of whether it is empty.
func (r Record) HasLines() bool {
	v, ok := r[FieldLines]
	return ok && v != nil
}

// Payload serializes the full record to JSON for the raw payload column.
func (r Record) Payload() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}
