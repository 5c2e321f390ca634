package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/syncforge/syncforge/internal/notify/mocks"
	"github.com/syncforge/syncforge/internal/record"
	"github.com/syncforge/syncforge/internal/upstream"
	upstreammocks "github.com/syncforge/syncforge/internal/upstream/mocks"
)

func orderRecord(code string, status int, total float64, modifiedAt string) record.Record {
	return record.Record{
		record.FieldKey:        code,
		record.FieldStatus:     float64(status),
		record.FieldTotal:      total,
		record.FieldModifiedAt: modifiedAt,
	}
}

func TestTickNotifiesCompletedTransition(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{Branches: []string{"B1"}})
	ctx := context.Background()

	// First tick establishes the baseline; everything is new, nothing fires.
	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 2, 25, "2025-06-15T10:00:00Z")}, nil)
	n.tick(ctx)

	// Second tick sees the order move to completed.
	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 3, 25, "2025-06-15T10:05:00Z")}, nil)
	sink.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, change record.Change) error {
			assert.Equal(t, "ORD-1", change.Record.Key())
			assert.Equal(t, StatusCompleted, change.Record.Status())
			assert.Equal(t, record.KindModified, change.Kind)
			assert.True(t, change.FieldChanged(record.FieldStatus))
			return nil
		})
	n.tick(ctx)
}

func TestTickIgnoresNonQualifyingChanges(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{})
	ctx := context.Background()

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 1, 25, "2025-06-15T10:00:00Z")}, nil)
	n.tick(ctx)

	// Moving to in-progress is a change, but not a notify-worthy status.
	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 2, 25, "2025-06-15T10:05:00Z")}, nil)
	n.tick(ctx)
}

func TestTickNewCompletedOrderDoesNotNotify(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{})

	// An order first observed already completed is New, not a transition.
	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 3, 25, "2025-06-15T10:00:00Z")}, nil)
	n.tick(context.Background())
}

func TestTickSinkFailureIsIsolated(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{})
	ctx := context.Background()

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{
			orderRecord("ORD-1", 2, 25, "2025-06-15T10:00:00Z"),
			orderRecord("ORD-2", 2, 30, "2025-06-15T10:00:00Z"),
		}, nil)
	n.tick(ctx)

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{
			orderRecord("ORD-1", 3, 25, "2025-06-15T10:05:00Z"),
			orderRecord("ORD-2", 4, 30, "2025-06-15T10:05:00Z"),
		}, nil)

	var attempts atomic.Int64
	sink.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		Times(2).
		DoAndReturn(func(_ context.Context, change record.Change) error {
			attempts.Add(1)
			if change.Record.Key() == "ORD-1" {
				return errors.New("endpoint down")
			}
			return nil
		})
	n.tick(ctx)

	assert.Equal(t, int64(2), attempts.Load(), "one failed delivery never blocks the rest")
}

func TestTickFetchFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{})
	ctx := context.Background()

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 2, 25, "2025-06-15T10:00:00Z")}, nil)
	n.tick(ctx)

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return(nil, errors.New("upstream down"))
	n.tick(ctx)

	// The failed tick must not have clobbered the baseline: the transition
	// is still detected against the first tick's snapshot.
	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return([]record.Record{orderRecord("ORD-1", 3, 25, "2025-06-15T10:05:00Z")}, nil)
	sink.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	n.tick(ctx)
}

func TestTickSkipsWhileBusy(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	n := New(client, sink, Config{})
	n.busy.Store(true)

	// No Fetch expectation: a busy notifier must not touch the upstream.
	n.tick(context.Background())
}

func TestTickQueriesTodayWindow(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	now := time.Date(2025, 6, 15, 14, 30, 45, 0, time.UTC)
	n := New(client, sink, Config{Branches: []string{"B1", "B2"}, PageSize: 100},
		WithClock(func() time.Time { return now }))

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, q upstream.Query) ([]record.Record, error) {
			assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), q.ModifiedSince)
			assert.Equal(t, []string{"B1", "B2"}, q.Branches)
			assert.Equal(t, 100, q.PageSize)
			assert.Equal(t, record.FieldModifiedAt, q.SortBy)
			return nil, nil
		})
	n.tick(context.Background())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := upstreammocks.NewMockClient(ctrl)
	sink := mocks.NewMockSink(ctrl)

	client.EXPECT().
		Fetch(gomock.Any(), "orders", gomock.Any()).
		Return(nil, nil).
		AnyTimes()

	n := New(client, sink, Config{Interval: 5 * time.Millisecond})

	go n.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	n.Stop()

	select {
	case <-n.done:
	default:
		t.Fatal("Stop must wait for the loop to exit")
	}
}

func TestConfigNormalized(t *testing.T) {
	t.Parallel()

	cfg := Config{}.normalized()
	assert.Equal(t, "orders", cfg.EntityType)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, []int{StatusCompleted, StatusCancelled}, cfg.Statuses)
	assert.Equal(t, defaultDispatchLimit, cfg.DispatchLimit)

	cfg = Config{EntityType: "invoices", Interval: time.Minute, Statuses: []int{9}, DispatchLimit: 2}.normalized()
	assert.Equal(t, "invoices", cfg.EntityType)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, []int{9}, cfg.Statuses)
	assert.Equal(t, 2, cfg.DispatchLimit)
}

func TestWebhookSinkNotify(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, time.Second)
	err := sink.Notify(context.Background(), record.Change{
		Record: orderRecord("ORD-1", 3, 25, "2025-06-15T10:05:00Z"),
		Kind:   record.KindModified,
		Fields: []string{record.FieldStatus},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), received.Load())
}

func TestWebhookSinkNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, time.Second)
	err := sink.Notify(context.Background(), record.Change{
		Record: orderRecord("ORD-1", 3, 25, "2025-06-15T10:05:00Z"),
		Kind:   record.KindModified,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
