package status

import (
	"context"
	"time"
)

// Tracker persists sync status rows.
//
//go:generate mockgen -destination=mocks/mock_tracker.go -package=mocks -source=tracker.go Tracker
type Tracker interface {
	// Record upserts the status row for entityType with the given sync
	// time and backfill flag.
	Record(ctx context.Context, entityType string, backfillCompleted bool, at time.Time) error

	// Get returns the status row for entityType. An absent row yields a
	// zero-value status, never an error.
	Get(ctx context.Context, entityType string) (SyncStatus, error)

	// List returns all known status rows keyed by entity type.
	List(ctx context.Context) (map[string]SyncStatus, error)
}
