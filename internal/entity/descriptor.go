// Package entity describes the business entity types the engine syncs. Each
// entity is a Descriptor: table mapping, column sanitize rules, optional
// child collection, and fetch defaults. The reconciliation engine is generic
// over descriptors; adding an entity type means adding a descriptor, not a
// new engine.
package entity

import (
	"fmt"
	"time"

	"github.com/syncforge/syncforge/internal/record"
	"github.com/syncforge/syncforge/internal/upstream"
)

// ColumnKind is the storage type of a mapped column.
type ColumnKind string

const (
	// KindString maps to a text column with a length limit.
	KindString ColumnKind = "string"

	// KindNumber maps to a numeric column; invalid values coerce to a default.
	KindNumber ColumnKind = "number"

	// KindTime maps to a timestamptz column; unparseable values become NULL.
	KindTime ColumnKind = "time"

	// KindBool maps to a boolean column.
	KindBool ColumnKind = "bool"
)

// Column maps one upstream record field to a storage column.
type Column struct {
	// Name is the column name in the durable store.
	Name string

	// Field is the upstream record field this column is populated from.
	// Empty means Field == Name.
	Field string

	// Kind selects the sanitize rule applied before persistence.
	Kind ColumnKind

	// MaxLen truncates string values to this many runes; 0 means unlimited.
	MaxLen int

	// Default is the value used when a numeric field is missing or invalid.
	Default float64
}

// sourceField returns the upstream field name backing the column.
func (c Column) sourceField() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Name
}

// Descriptor is the full sync configuration for one entity type.
type Descriptor struct {
	// Type is the entity type identifier, e.g. "orders". Also the key of
	// the entity's sync status row.
	Type string

	// Table is the durable store table for the entity's scalar columns.
	Table string

	// KeyColumn is the unique-key column, populated from the record key.
	KeyColumn string

	// Columns are the mapped scalar columns, excluding the key column.
	Columns []Column

	// ChildTable is the table holding the entity's nested line items;
	// empty when the entity has no child collection.
	ChildTable string

	// ChildFK is the child table column referencing the parent key.
	ChildFK string

	// Query carries the default fetch filters for incremental sync.
	Query upstream.Query

	// Interval is how often the entity's sync job runs.
	Interval time.Duration
}

// Validate checks the descriptor is usable by the engine.
func (d Descriptor) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("entity type is required")
	}
	if d.Table == "" {
		return fmt.Errorf("entity %s: table is required", d.Type)
	}
	if d.KeyColumn == "" {
		return fmt.Errorf("entity %s: key column is required", d.Type)
	}
	if d.HasChildren() && d.ChildFK == "" {
		return fmt.Errorf("entity %s: child table %s requires a foreign key column", d.Type, d.ChildTable)
	}
	for _, col := range d.Columns {
		if col.Name == "" {
			return fmt.Errorf("entity %s: column with empty name", d.Type)
		}
	}
	return nil
}

// HasChildren reports whether the entity carries a nested child collection.
func (d Descriptor) HasChildren() bool {
	return d.ChildTable != ""
}

// Sanitize produces one storage value per descriptor column from the given
// record: oversized strings are truncated to their limits, numerics are
// coerced with per-column defaults, unparseable timestamps and missing
// optionals become nil.
func (d Descriptor) Sanitize(r record.Record) []any {
	values := make([]any, len(d.Columns))
	for i, col := range d.Columns {
		values[i] = sanitizeValue(col, r)
	}
	return values
}

func sanitizeValue(col Column, r record.Record) any {
	field := col.sourceField()

	switch col.Kind {
	case KindString:
		s := r.Str(field)
		if s == "" {
			if _, present := r[field]; !present {
				return nil
			}
		}
		if col.MaxLen > 0 {
			runes := []rune(s)
			if len(runes) > col.MaxLen {
				s = string(runes[:col.MaxLen])
			}
		}
		return s
	case KindNumber:
		return r.Num(field, col.Default)
	case KindTime:
		if field == record.FieldModifiedAt {
			if t, ok := r.ModifiedAt(); ok {
				return t
			}
			return nil
		}
		// Reuse the record's timestamp parsing for other time columns.
		shadow := record.Record{record.FieldModifiedAt: r[field]}
		if t, ok := shadow.ModifiedAt(); ok {
			return t
		}
		return nil
	case KindBool:
		v, ok := r[field]
		if !ok || v == nil {
			return nil
		}
		if b, ok := v.(bool); ok {
			return b
		}
		return r.Str(field) == "true"
	default:
		return r[field]
	}
}
