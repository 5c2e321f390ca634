// Package status tracks per-entity-type sync progress: when an entity type
// last synced successfully and whether its historical backfill completed.
package status

import "time"

// SyncStatus is the bookkeeping record for one entity type. Exactly one row
// exists per entity type; rows are upserted and never deleted.
type SyncStatus struct {
	// EntityType identifies the entity collection, e.g. "orders".
	EntityType string

	// LastSyncAt is the timestamp of the last successful sync cycle. Zero
	// when the entity has never synced.
	LastSyncAt time.Time

	// BackfillCompleted reports whether full historical backfill has
	// finished for the entity.
	BackfillCompleted bool
}

// HasSynced reports whether the entity has ever completed a sync cycle.
func (s SyncStatus) HasSynced() bool {
	return !s.LastSyncAt.IsZero()
}
