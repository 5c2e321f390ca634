package entity

import (
	"fmt"
	"time"

	"github.com/syncforge/syncforge/internal/record"
	"github.com/syncforge/syncforge/internal/upstream"
)

// Default sync intervals per entity class. Orders move fastest; reference
// data (categories, price books, users, products) changes rarely.
const (
	defaultOrderInterval     = 5 * time.Minute
	defaultReferenceInterval = 30 * time.Minute
)

// Orders returns the descriptor for upstream sales orders, the one entity
// with a nested line-item child collection.
func Orders() Descriptor {
	return Descriptor{
		Type:      "orders",
		Table:     "orders",
		KeyColumn: "code",
		Columns: []Column{
			{Name: "branch_code", Kind: KindString, MaxLen: 32},
			{Name: "customer_name", Kind: KindString, MaxLen: 255},
			{Name: "status", Kind: KindNumber, Default: 0},
			{Name: "total", Kind: KindNumber, Default: 0},
			{Name: "modified_at", Kind: KindTime},
		},
		ChildTable: "order_lines",
		ChildFK:    "order_code",
		Query: upstream.Query{
			PageSize: 200,
			SortBy:   record.FieldModifiedAt,
		},
		Interval: defaultOrderInterval,
	}
}

// Categories returns the descriptor for product categories.
func Categories() Descriptor {
	return Descriptor{
		Type:      "categories",
		Table:     "categories",
		KeyColumn: "code",
		Columns: []Column{
			{Name: "name", Kind: KindString, MaxLen: 255},
			{Name: "parent_code", Kind: KindString, MaxLen: 64},
			{Name: "modified_at", Kind: KindTime},
		},
		Query: upstream.Query{
			PageSize: 500,
			SortBy:   record.FieldModifiedAt,
		},
		Interval: defaultReferenceInterval,
	}
}

// PriceBooks returns the descriptor for price books.
func PriceBooks() Descriptor {
	return Descriptor{
		Type:      "pricebooks",
		Table:     "price_books",
		KeyColumn: "code",
		Columns: []Column{
			{Name: "name", Kind: KindString, MaxLen: 255},
			{Name: "currency", Kind: KindString, MaxLen: 8},
			{Name: "total", Field: "total", Kind: KindNumber, Default: 0},
			{Name: "modified_at", Kind: KindTime},
		},
		Query: upstream.Query{
			PageSize: 500,
			SortBy:   record.FieldModifiedAt,
		},
		Interval: defaultReferenceInterval,
	}
}

// Users returns the descriptor for upstream user accounts.
func Users() Descriptor {
	return Descriptor{
		Type:      "users",
		Table:     "users",
		KeyColumn: "code",
		Columns: []Column{
			{Name: "username", Kind: KindString, MaxLen: 128},
			{Name: "email", Kind: KindString, MaxLen: 255},
			{Name: "active", Kind: KindBool},
			{Name: "modified_at", Kind: KindTime},
		},
		Query: upstream.Query{
			PageSize: 500,
			SortBy:   record.FieldModifiedAt,
		},
		Interval: defaultReferenceInterval,
	}
}

// Products returns the descriptor for the product catalog.
func Products() Descriptor {
	return Descriptor{
		Type:      "products",
		Table:     "products",
		KeyColumn: "code",
		Columns: []Column{
			{Name: "name", Kind: KindString, MaxLen: 255},
			{Name: "category_code", Kind: KindString, MaxLen: 64},
			{Name: "price", Kind: KindNumber, Default: 0},
			{Name: "modified_at", Kind: KindTime},
		},
		Query: upstream.Query{
			PageSize: 500,
			SortBy:   record.FieldModifiedAt,
		},
		Interval: defaultReferenceInterval,
	}
}

// All returns every built-in descriptor keyed by entity type.
func All() map[string]Descriptor {
	descriptors := []Descriptor{Orders(), Categories(), PriceBooks(), Users(), Products()}
	byType := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byType[d.Type] = d
	}
	return byType
}

// ByType looks up a built-in descriptor by entity type.
func ByType(entityType string) (Descriptor, error) {
	d, ok := All()[entityType]
	if !ok {
		return Descriptor{}, fmt.Errorf("unrecognized entity type: %s", entityType)
	}
	return d, nil
}
