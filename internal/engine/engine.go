// Package engine implements the batched, transactional, idempotent
// persistence routine at the core of the sync cycle. One call opens one
// transaction, classifies each record as new, updated, or skipped under
// last-write-wins, and tolerates record-level failures without aborting the
// run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/record"
)

const (
	// DefaultBatchSize is the number of records processed per batch.
	DefaultBatchSize = 50

	// defaultPacing is the courtesy delay between batches so one long run
	// does not starve the pool. Not a correctness requirement.
	defaultPacing = 25 * time.Millisecond
)

// Engine persists record collections into the durable store.
type Engine struct {
	store     Store
	batchSize int
	pacing    time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithBatchSize overrides the default batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPacing overrides the inter-batch pacing delay. Zero disables pacing.
func WithPacing(d time.Duration) Option {
	return func(e *Engine) {
		e.pacing = d
	}
}

// New creates a persistence engine over the given store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		batchSize: DefaultBatchSize,
		pacing:    defaultPacing,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Persist upserts records into the entity's tables in fixed-size batches
// inside one transaction, preserving input order. Each record is sanitized,
// checked against the stored row's modification timestamp (last-write-wins),
// and written only when new or strictly newer. Record-level errors are
// counted and skipped; engine-level failures roll back the entire run.
func (e *Engine) Persist(ctx context.Context, desc entity.Descriptor, records []record.Record) (Outcome, error) {
	outcome := Outcome{}

	if err := desc.Validate(); err != nil {
		return outcome, fmt.Errorf("invalid descriptor: %w", err)
	}
	if len(records) == 0 {
		return outcome, nil
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return outcome, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("Failed to roll back persistence transaction",
					"entity", desc.Type, "error", rbErr)
			}
		}
	}()

	for start := 0; start < len(records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(records) {
			end = len(records)
		}

		if err := e.persistBatch(ctx, tx, desc, records[start:end], &outcome); err != nil {
			// Engine-level failure: everything in this run is reverted.
			return Outcome{Total: len(records), Failed: len(records)}, err
		}

		if e.pacing > 0 && end < len(records) {
			if err := pause(ctx, e.pacing); err != nil {
				return Outcome{Total: len(records), Failed: len(records)}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{Total: len(records), Failed: len(records)},
			fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	slog.Debug("Persistence run complete",
		"entity", desc.Type,
		"total", outcome.Total,
		"new", outcome.New,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped(),
		"failed", outcome.Failed)

	return outcome, nil
}

// persistBatch processes one batch sequentially, in order. Per-record errors
// are counted in the outcome; only ErrTxFailed aborts the run.
func (e *Engine) persistBatch(
	ctx context.Context,
	tx Tx,
	desc entity.Descriptor,
	batch []record.Record,
	outcome *Outcome,
) error {
	for _, rec := range batch {
		outcome.Total++

		kind, err := e.persistRecord(ctx, tx, desc, rec)
		if err != nil {
			if isFatal(err) {
				return err
			}
			outcome.Failed++
			slog.Warn("Record rejected during persistence",
				"entity", desc.Type,
				"key", rec.Key(),
				"error", err)
			continue
		}

		switch kind {
		case record.KindNew:
			outcome.New++
			outcome.Succeeded++
		case record.KindModified:
			outcome.Updated++
			outcome.Succeeded++
		case record.KindUnchanged:
			// Stored row is current or newer; processed but not written.
		}
	}
	return nil
}

// persistRecord sanitizes, decides write eligibility, and writes one record
// inside its own savepoint. The returned kind is KindNew for an insert,
// KindModified for a last-write-wins overwrite, KindUnchanged for a skip.
func (e *Engine) persistRecord(
	ctx context.Context,
	tx Tx,
	desc entity.Descriptor,
	rec record.Record,
) (record.Kind, error) {
	key := rec.Key()
	if key == "" {
		return "", fmt.Errorf("record has no %s field", record.FieldKey)
	}

	kind := record.KindUnchanged
	err := tx.Savepoint(ctx, func() error {
		storedMod, found, err := tx.StoredModification(ctx, desc, key)
		if err != nil {
			return err
		}

		if found && !eligible(rec, storedMod) {
			return nil
		}

		payload, err := rec.Payload()
		if err != nil {
			return fmt.Errorf("failed to serialize payload: %w", err)
		}
		if err := tx.UpsertRecord(ctx, desc, key, desc.Sanitize(rec), payload); err != nil {
			return err
		}
		if desc.HasChildren() && rec.HasLines() {
			if err := tx.ReplaceLines(ctx, desc, key, rec.Lines()); err != nil {
				return err
			}
		}

		if found {
			kind = record.KindModified
		} else {
			kind = record.KindNew
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return kind, nil
}

// eligible applies last-write-wins: write only when the incoming record's
// modification timestamp is strictly newer than the stored one. Records
// without a timestamp always write, so sources that do not carry one still
// converge on the latest fetch.
func eligible(rec record.Record, storedMod time.Time) bool {
	incoming, ok := rec.ModifiedAt()
	if !ok {
		return true
	}
	return incoming.After(storedMod)
}

func isFatal(err error) bool {
	return errors.Is(err, ErrTxFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// pause waits for the pacing delay or until the context is cancelled.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTxFailed, ctx.Err())
	}
}
