// Package upstream provides the client for fetching entity collections from
// the upstream source system.
package upstream

import (
	"context"
	"strings"
	"time"

	"github.com/syncforge/syncforge/internal/record"
)

// Query narrows a fetch to the records a sync cycle cares about.
type Query struct {
	// ModifiedSince restricts the result to records modified at or after
	// this instant. Zero means no time filter (full backfill).
	ModifiedSince time.Time

	// Branches scopes the fetch to these branch identifiers. Empty means
	// all branches.
	Branches []string

	// PageSize is the upstream pagination size; 0 uses the server default.
	PageSize int

	// SortBy names the upstream sort field, e.g. "modified_at".
	SortBy string
}

// BranchParam renders the branch scope as the comma-separated query value
// the upstream API expects.
func (q Query) BranchParam() string {
	return strings.Join(q.Branches, ",")
}

// Client fetches entity collections from the upstream source system.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client
type Client interface {
	// Fetch retrieves all records of the given entity type matching the
	// query. Records are returned in upstream order.
	Fetch(ctx context.Context, entityType string, q Query) ([]record.Record, error)
}
