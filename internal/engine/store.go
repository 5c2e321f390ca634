package engine

import (
	"context"
	"errors"
	"time"

	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/record"
)

// ErrTxFailed marks an engine-level transaction failure (connection loss,
// failed savepoint bookkeeping). It aborts the whole run and rolls back
// everything, unlike record-level errors which are counted and skipped.
var ErrTxFailed = errors.New("transaction failed")

// Store opens transactions against the durable store. Each persistence run
// acquires exactly one transaction; transactions are never shared across
// concurrent entity jobs.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one long-lived persistence transaction. Implementations must scope
// Savepoint so a failing record rolls back only its own writes while the
// surrounding transaction stays usable.
type Tx interface {
	// StoredModification returns the modification timestamp of the stored
	// row with the given key, and whether such a row exists.
	StoredModification(ctx context.Context, desc entity.Descriptor, key string) (time.Time, bool, error)

	// UpsertRecord writes the record's sanitized scalar columns and raw
	// payload under the given key.
	UpsertRecord(ctx context.Context, desc entity.Descriptor, key string, values []any, payload []byte) error

	// ReplaceLines deletes the child rows scoped to the parent key and
	// reinserts the given line items.
	ReplaceLines(ctx context.Context, desc entity.Descriptor, key string, lines []record.LineItem) error

	// Savepoint runs fn inside a nested scope. An error returned by fn
	// rolls back only that scope and is passed through; infrastructure
	// failures are wrapped in ErrTxFailed.
	Savepoint(ctx context.Context, fn func() error) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
