package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/record"
)

// memStore is an in-memory Store with savepoint and commit semantics close
// enough to the real thing to exercise the engine's classification logic.
type memStore struct {
	rows      map[string]memRow
	beginErr  error
	upsertErr map[string]error
	begun     int
	lastTx    *memTx
}

type memRow struct {
	values  []any
	payload []byte
	lines   []record.LineItem
}

func newMemStore() *memStore {
	return &memStore{
		rows:      make(map[string]memRow),
		upsertErr: make(map[string]error),
	}
}

func (s *memStore) Begin(_ context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.begun++
	tx := &memTx{
		store:  s,
		staged: make(map[string]memRow),
	}
	s.lastTx = tx
	return tx, nil
}

type memTx struct {
	store      *memStore
	staged     map[string]memRow
	committed  bool
	rolledBack bool
}

func (t *memTx) lookup(key string) (memRow, bool) {
	if row, ok := t.staged[key]; ok {
		return row, true
	}
	row, ok := t.store.rows[key]
	return row, ok
}

func (t *memTx) StoredModification(_ context.Context, desc entity.Descriptor, key string) (time.Time, bool, error) {
	row, ok := t.lookup(key)
	if !ok {
		return time.Time{}, false, nil
	}
	for i, col := range desc.Columns {
		if col.Name == "modified_at" && i < len(row.values) {
			if ts, ok := row.values[i].(time.Time); ok {
				return ts, true, nil
			}
		}
	}
	return time.Time{}, true, nil
}

func (t *memTx) UpsertRecord(_ context.Context, _ entity.Descriptor, key string, values []any, payload []byte) error {
	if err := t.store.upsertErr[key]; err != nil {
		return err
	}
	row := t.staged[key]
	row.values = values
	row.payload = payload
	t.staged[key] = row
	return nil
}

func (t *memTx) ReplaceLines(_ context.Context, _ entity.Descriptor, key string, lines []record.LineItem) error {
	row := t.staged[key]
	row.lines = lines
	t.staged[key] = row
	return nil
}

func (t *memTx) Savepoint(_ context.Context, fn func() error) error {
	before := make(map[string]memRow, len(t.staged))
	for k, v := range t.staged {
		before[k] = v
	}
	if err := fn(); err != nil {
		t.staged = before
		return err
	}
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	for k, v := range t.staged {
		t.store.rows[k] = v
	}
	t.committed = true
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}

func orderRecord(code string, status int, total float64, modifiedAt string) record.Record {
	r := record.Record{
		record.FieldKey:    code,
		record.FieldStatus: float64(status),
		record.FieldTotal:  total,
	}
	if modifiedAt != "" {
		r[record.FieldModifiedAt] = modifiedAt
	}
	return r
}

func TestPersistInsertsNewRecords(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-2", 2, 20, "2025-06-15T11:00:00Z"),
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)

	assert.Equal(t, Outcome{Total: 2, Succeeded: 2, New: 2}, outcome)
	assert.True(t, outcome.Success())
	assert.True(t, outcome.HasNewData())
	assert.True(t, store.lastTx.committed)
	assert.Len(t, store.rows, 2)
}

func TestPersistIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-2", 2, 20, "2025-06-15T11:00:00Z"),
	}

	first, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, first.New)

	second, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Total)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped(), "equal timestamps keep the stored row")
	assert.False(t, second.HasNewData())
}

func TestPersistLastWriteWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stored     string
		incoming   string
		wantKind   record.Kind
	}{
		{
			name:     "newer incoming overwrites",
			stored:   "2025-06-15T10:00:00Z",
			incoming: "2025-06-15T10:05:00Z",
			wantKind: record.KindModified,
		},
		{
			name:     "older incoming is skipped",
			stored:   "2025-06-15T10:05:00Z",
			incoming: "2025-06-15T10:00:00Z",
			wantKind: record.KindUnchanged,
		},
		{
			name:     "equal timestamps keep stored",
			stored:   "2025-06-15T10:00:00Z",
			incoming: "2025-06-15T10:00:00Z",
			wantKind: record.KindUnchanged,
		},
		{
			name:     "no incoming timestamp always writes",
			stored:   "2025-06-15T10:05:00Z",
			incoming: "",
			wantKind: record.KindModified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemStore()
			eng := New(store, WithPacing(0))
			ctx := context.Background()

			_, err := eng.Persist(ctx, entity.Orders(),
				[]record.Record{orderRecord("ORD-1", 1, 10, tt.stored)})
			require.NoError(t, err)

			outcome, err := eng.Persist(ctx, entity.Orders(),
				[]record.Record{orderRecord("ORD-1", 2, 15, tt.incoming)})
			require.NoError(t, err)

			switch tt.wantKind {
			case record.KindModified:
				assert.Equal(t, 1, outcome.Updated)
				assert.Equal(t, 0, outcome.Skipped())
			case record.KindUnchanged:
				assert.Equal(t, 0, outcome.Updated)
				assert.Equal(t, 1, outcome.Skipped())
			}
			assert.Equal(t, 0, outcome.Failed)
		})
	}
}

func TestPersistRecordFailureIsIsolated(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.upsertErr["ORD-2"] = fmt.Errorf("value too long for column")
	eng := New(store, WithPacing(0))

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-2", 1, 10, "2025-06-15T10:01:00Z"),
		orderRecord("ORD-3", 1, 10, "2025-06-15T10:02:00Z"),
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err, "record-level failures never fail the run")

	assert.Equal(t, 3, outcome.Total)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Failed)
	assert.False(t, outcome.Success())
	assert.True(t, store.lastTx.committed)
	assert.Contains(t, store.rows, "ORD-1")
	assert.NotContains(t, store.rows, "ORD-2")
	assert.Contains(t, store.rows, "ORD-3")
}

func TestPersistRecordWithoutKeyIsRejected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	records := []record.Record{
		{record.FieldStatus: float64(1)},
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 1, outcome.Succeeded)
}

func TestPersistEngineFailureRollsBackRun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.upsertErr["ORD-2"] = fmt.Errorf("%w: connection reset", ErrTxFailed)
	eng := New(store, WithPacing(0))

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-2", 1, 10, "2025-06-15T10:01:00Z"),
		orderRecord("ORD-3", 1, 10, "2025-06-15T10:02:00Z"),
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTxFailed)

	assert.Equal(t, Outcome{Total: 3, Failed: 3}, outcome)
	assert.True(t, store.lastTx.rolledBack)
	assert.False(t, store.lastTx.committed)
	assert.Empty(t, store.rows, "nothing from the failed run is durable")
}

func TestPersistDuplicateKeysInOneRun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-1", 2, 15, "2025-06-15T10:00:00Z"),
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.New, "first occurrence inserts")
	assert.Equal(t, 1, outcome.Skipped(), "equal-timestamp duplicate is skipped")
}

func TestPersistZeroRecords(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	outcome, err := eng.Persist(context.Background(), entity.Orders(), nil)
	require.NoError(t, err)

	assert.Equal(t, Outcome{}, outcome)
	assert.Equal(t, 0, store.begun, "no transaction for an empty run")
}

func TestPersistBatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithBatchSize(2), WithPacing(0))

	var records []record.Record
	for i := 0; i < 5; i++ {
		records = append(records,
			orderRecord(fmt.Sprintf("ORD-%d", i), 1, 10, "2025-06-15T10:00:00Z"))
	}

	outcome, err := eng.Persist(context.Background(), entity.Orders(), records)
	require.NoError(t, err)

	assert.Equal(t, 5, outcome.New)
	assert.Len(t, store.rows, 5)
	assert.Equal(t, 1, store.begun, "all batches share one transaction")
}

func TestPersistStoresLineItems(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithPacing(0))

	rec := orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z")
	rec[record.FieldLines] = []any{
		map[string]any{"item_id": "SKU-1", "quantity": float64(2), "price": 4.5},
	}

	_, err := eng.Persist(context.Background(), entity.Orders(), []record.Record{rec})
	require.NoError(t, err)

	require.Contains(t, store.rows, "ORD-1")
	require.Len(t, store.rows["ORD-1"].lines, 1)
	assert.Equal(t, "SKU-1", store.rows["ORD-1"].lines[0].ItemID)
}

func TestPersistInvalidDescriptor(t *testing.T) {
	t.Parallel()

	eng := New(newMemStore(), WithPacing(0))

	_, err := eng.Persist(context.Background(), entity.Descriptor{}, []record.Record{
		orderRecord("ORD-1", 1, 10, ""),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid descriptor")
}

func TestPersistCancelledContextAbortsPacing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := New(store, WithBatchSize(1), WithPacing(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := []record.Record{
		orderRecord("ORD-1", 1, 10, "2025-06-15T10:00:00Z"),
		orderRecord("ORD-2", 1, 10, "2025-06-15T10:01:00Z"),
	}

	outcome, err := eng.Persist(ctx, entity.Orders(), records)
	require.Error(t, err)
	assert.Equal(t, len(records), outcome.Failed)
	assert.True(t, store.lastTx.rolledBack)
}

func TestOutcomeAccounting(t *testing.T) {
	t.Parallel()

	o := Outcome{Total: 10, Succeeded: 6, Failed: 1, New: 4, Updated: 2}
	assert.Equal(t, 3, o.Skipped())
	assert.False(t, o.Success())
	assert.True(t, o.HasNewData())

	assert.True(t, Outcome{}.Success())
	assert.False(t, Outcome{}.HasNewData())
}
