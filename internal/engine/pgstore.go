package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/record"
)

// pgStore is the PostgreSQL-backed Store over a shared pgx pool. Table and
// column names come from entity descriptors, which are compiled in, so SQL
// built from them is trusted; only values travel as parameters.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Store backed by the given connection pool. The caller
// keeps ownership of the pool.
func NewPGStore(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	return &pgTx{current: tx}, nil
}

// pgTx wraps one pgx transaction. Savepoint swaps current for a nested
// transaction so record-scoped statements roll back independently.
type pgTx struct {
	current pgx.Tx
}

func (t *pgTx) StoredModification(
	ctx context.Context, desc entity.Descriptor, key string,
) (time.Time, bool, error) {
	query := fmt.Sprintf(
		"SELECT modified_at FROM %s WHERE %s = $1",
		pgx.Identifier{desc.Table}.Sanitize(),
		pgx.Identifier{desc.KeyColumn}.Sanitize(),
	)

	var modifiedAt *time.Time
	err := t.current.QueryRow(ctx, query, key).Scan(&modifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to look up %s %q: %w", desc.Type, key, err)
	}
	if modifiedAt == nil {
		// Row exists but has never carried a timestamp; treat as oldest.
		return time.Time{}, true, nil
	}
	return *modifiedAt, true, nil
}

func (t *pgTx) UpsertRecord(
	ctx context.Context, desc entity.Descriptor, key string, values []any, payload []byte,
) error {
	if len(values) != len(desc.Columns) {
		return fmt.Errorf("column/value count mismatch: %d columns, %d values", len(desc.Columns), len(values))
	}

	columns := make([]string, 0, len(desc.Columns)+3)
	placeholders := make([]string, 0, len(desc.Columns)+3)
	args := make([]any, 0, len(desc.Columns)+3)

	addColumn := func(name string, value any) {
		columns = append(columns, pgx.Identifier{name}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, value)
	}

	addColumn(desc.KeyColumn, key)
	for i, col := range desc.Columns {
		addColumn(col.Name, values[i])
	}
	addColumn("payload", payload)
	addColumn("synced_at", time.Now().UTC())

	assignments := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{desc.Table}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		pgx.Identifier{desc.KeyColumn}.Sanitize(),
		strings.Join(assignments, ", "),
	)

	if _, err := t.current.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s %q: %w", desc.Type, key, err)
	}
	return nil
}

func (t *pgTx) ReplaceLines(
	ctx context.Context, desc entity.Descriptor, key string, lines []record.LineItem,
) error {
	childTable := pgx.Identifier{desc.ChildTable}.Sanitize()
	childFK := pgx.Identifier{desc.ChildFK}.Sanitize()

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", childTable, childFK)
	if _, err := t.current.Exec(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("failed to delete child rows for %s %q: %w", desc.Type, key, err)
	}

	if len(lines) == 0 {
		return nil
	}

	insertQuery := fmt.Sprintf(
		"INSERT INTO %s (%s, position, item_id, quantity, price) VALUES ($1, $2, $3, $4, $5)",
		childTable, childFK,
	)
	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(insertQuery, key, i, line.ItemID, line.Quantity, line.Price)
	}

	results := t.current.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert child rows for %s %q: %w", desc.Type, key, err)
		}
	}
	return nil
}

// Savepoint runs fn inside a nested transaction (a Postgres savepoint), so a
// statement error inside fn does not poison the surrounding transaction.
func (t *pgTx) Savepoint(ctx context.Context, fn func() error) error {
	nested, err := t.current.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to create savepoint: %w", ErrTxFailed, err)
	}

	outer := t.current
	t.current = nested
	fnErr := fn()
	t.current = outer

	if fnErr != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w: failed to roll back savepoint: %w", ErrTxFailed, rbErr)
		}
		return fnErr
	}

	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to release savepoint: %w", ErrTxFailed, err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.current.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.current.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
