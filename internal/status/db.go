package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbTracker is the PostgreSQL-backed Tracker. The sync_status table carries
// one row per entity type, enforced by a uniqueness constraint.
type dbTracker struct {
	pool *pgxpool.Pool
}

// NewDBTracker creates a database-backed sync status tracker.
func NewDBTracker(pool *pgxpool.Pool) (Tracker, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &dbTracker{pool: pool}, nil
}

func (d *dbTracker) Record(ctx context.Context, entityType string, backfillCompleted bool, at time.Time) error {
	const query = `
		INSERT INTO sync_status (entity_type, last_sync_at, backfill_completed)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			backfill_completed = EXCLUDED.backfill_completed`

	if _, err := d.pool.Exec(ctx, query, entityType, at.UTC(), backfillCompleted); err != nil {
		return fmt.Errorf("failed to record sync status for %s: %w", entityType, err)
	}
	return nil
}

func (d *dbTracker) Get(ctx context.Context, entityType string) (SyncStatus, error) {
	const query = `
		SELECT last_sync_at, backfill_completed
		FROM sync_status
		WHERE entity_type = $1`

	var lastSyncAt *time.Time
	var backfillCompleted bool
	err := d.pool.QueryRow(ctx, query, entityType).Scan(&lastSyncAt, &backfillCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		// First run for this entity type; zero value, not an error.
		return SyncStatus{EntityType: entityType}, nil
	}
	if err != nil {
		return SyncStatus{}, fmt.Errorf("failed to get sync status for %s: %w", entityType, err)
	}

	s := SyncStatus{EntityType: entityType, BackfillCompleted: backfillCompleted}
	if lastSyncAt != nil {
		s.LastSyncAt = *lastSyncAt
	}
	return s, nil
}

func (d *dbTracker) List(ctx context.Context) (map[string]SyncStatus, error) {
	const query = `
		SELECT entity_type, last_sync_at, backfill_completed
		FROM sync_status
		ORDER BY entity_type`

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	defer rows.Close()

	result := make(map[string]SyncStatus)
	for rows.Next() {
		var s SyncStatus
		var lastSyncAt *time.Time
		if err := rows.Scan(&s.EntityType, &lastSyncAt, &s.BackfillCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan sync status row: %w", err)
		}
		if lastSyncAt != nil {
			s.LastSyncAt = *lastSyncAt
		}
		result[s.EntityType] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync status rows: %w", err)
	}
	return result, nil
}
