package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syncforge/syncforge/internal/diff"
	"github.com/syncforge/syncforge/internal/record"
	"github.com/syncforge/syncforge/internal/upstream"
)

const (
	// DefaultInterval is the poll interval between ticks.
	DefaultInterval = 15 * time.Second

	// defaultDispatchLimit bounds concurrent notification deliveries.
	defaultDispatchLimit = 8
)

// Order statuses worth notifying downstream consumers about.
const (
	// StatusCompleted is the upstream "order completed" status.
	StatusCompleted = 3

	// StatusCancelled is the upstream "order cancelled" status.
	StatusCancelled = 4
)

// Config configures the notifier poller.
type Config struct {
	// EntityType is the entity polled for transitions; orders by default.
	EntityType string

	// Interval is the tick interval. Defaults to DefaultInterval.
	Interval time.Duration

	// Branches scopes the fetch to these branch identifiers.
	Branches []string

	// Statuses is the notify-worthy status set. Defaults to completed and
	// cancelled.
	Statuses []int

	// PageSize is the upstream pagination size for the fetch.
	PageSize int

	// DispatchLimit bounds concurrent notification deliveries per tick.
	DispatchLimit int
}

func (c Config) normalized() Config {
	if c.EntityType == "" {
		c.EntityType = "orders"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if len(c.Statuses) == 0 {
		c.Statuses = []int{StatusCompleted, StatusCancelled}
	}
	if c.DispatchLimit <= 0 {
		c.DispatchLimit = defaultDispatchLimit
	}
	return c
}

// Notifier polls the upstream for today's modified orders, diffs against the
// snapshot retained from the previous tick, and dispatches one notification
// per record whose new status is in the notify set. The retained snapshot is
// owned exclusively by the poller loop.
type Notifier struct {
	client upstream.Client
	sink   Sink
	cfg    Config
	now    func() time.Time

	snapshot *record.Snapshot

	// busy skips a tick while the previous one is still in flight, so a
	// slow fetch cannot overlap the next tick.
	busy atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the notifier's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// New creates a notifier over the given upstream client and sink.
func New(client upstream.Client, sink Sink, cfg Config, opts ...Option) *Notifier {
	n := &Notifier{
		client:   client,
		sink:     sink,
		cfg:      cfg.normalized(),
		now:      time.Now,
		snapshot: record.EmptySnapshot(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start runs the poll loop until the context is cancelled or Stop is called.
// It blocks; run it on its own goroutine.
func (n *Notifier) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	defer close(n.done)

	slog.Info("Starting change notifier",
		"entity", n.cfg.EntityType,
		"interval", n.cfg.Interval,
		"branches", n.cfg.Branches,
		"statuses", n.cfg.Statuses)

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.tick(loopCtx)
		case <-loopCtx.Done():
			slog.Info("Change notifier stopping")
			return
		}
	}
}

// Stop cancels the poller before its next tick. An in-flight tick is allowed
// to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		<-n.done
	}
}

// tick runs one fetch-diff-notify cycle. The busy flag drops a tick when the
// previous one has not finished yet.
func (n *Notifier) tick(ctx context.Context) {
	if !n.busy.CompareAndSwap(false, true) {
		slog.Warn("Skipping notifier tick: previous tick still in flight",
			"entity", n.cfg.EntityType)
		return
	}
	defer n.busy.Store(false)

	records, err := n.client.Fetch(ctx, n.cfg.EntityType, upstream.Query{
		ModifiedSince: midnight(n.now()),
		Branches:      n.cfg.Branches,
		PageSize:      n.cfg.PageSize,
		SortBy:        record.FieldModifiedAt,
	})
	if err != nil {
		slog.Error("Notifier fetch failed", "entity", n.cfg.EntityType, "error", err)
		return
	}

	current := record.NewSnapshot(records)
	changes := diff.Detect(current, n.snapshot, diff.Options{})
	qualifying := n.filter(changes)

	if len(qualifying) > 0 {
		n.dispatch(ctx, qualifying)
	}

	// The full fetch result replaces the retained snapshot unconditionally,
	// so the next tick diffs against this tick's complete state.
	n.snapshot = current
}

// filter keeps Modified changes whose new status is in the notify set. New
// records and modifications outside the set are silently retained in the
// snapshot without notification.
func (n *Notifier) filter(changes []record.Change) []record.Change {
	var qualifying []record.Change
	for _, change := range changes {
		if change.Kind != record.KindModified {
			continue
		}
		if !n.notifyWorthy(change.Record.Status()) {
			continue
		}
		qualifying = append(qualifying, change)
	}
	return qualifying
}

func (n *Notifier) notifyWorthy(status int) bool {
	for _, s := range n.cfg.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// dispatch fans out one notification per change with isolated failure
// handling: a delivery failure is logged and does not block the remaining
// notifications.
func (n *Notifier) dispatch(ctx context.Context, changes []record.Change) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(n.cfg.DispatchLimit)

	var delivered, failed atomic.Int64
	for _, change := range changes {
		group.Go(func() error {
			if err := n.sink.Notify(groupCtx, change); err != nil {
				failed.Add(1)
				slog.Error("Notification delivery failed",
					"entity", n.cfg.EntityType,
					"key", change.Record.Key(),
					"status", change.Record.Status(),
					"error", err)
				// Best-effort fan-out: never fail the group.
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	slog.Info("Notification dispatch complete",
		"entity", n.cfg.EntityType,
		"qualifying", len(changes),
		"delivered", delivered.Load(),
		"failed", failed.Load())
}

// midnight returns the start of the day containing t, in t's location.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
