// Package scheduler drives the periodic fetch-and-persist cycle for every
// configured entity type. Each entity runs as an independent job on its own
// interval; jobs share the store pool but never a transaction.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syncforge/syncforge/internal/engine"
	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/retry"
	"github.com/syncforge/syncforge/internal/status"
	"github.com/syncforge/syncforge/internal/telemetry"
	"github.com/syncforge/syncforge/internal/upstream"
)

// Job binds an entity descriptor to its retry policy.
type Job struct {
	Desc   entity.Descriptor
	Policy retry.Policy
}

// Scheduler runs one sync loop per configured entity.
type Scheduler struct {
	client  upstream.Client
	engine  *engine.Engine
	tracker status.Tracker
	jobs    []Job

	metrics *telemetry.SyncMetrics

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithSyncMetrics sets the sync metrics for the scheduler.
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// New creates a scheduler with injected dependencies.
func New(
	client upstream.Client,
	eng *engine.Engine,
	tracker status.Tracker,
	jobs []Job,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		client:  client,
		engine:  eng,
		tracker: tracker,
		jobs:    jobs,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one sync loop per job and blocks until the context is
// cancelled or Stop is called. Every job runs an initial cycle immediately,
// then on its interval. A failed cycle never stops subsequent cycles.
func (s *Scheduler) Start(ctx context.Context) error {
	slog.Info("Starting sync scheduler", "job_count", len(s.jobs))

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		close(s.done)
		slog.Info("Sync scheduler shut down")
	}()

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJob(loopCtx, job)
		}()
	}

	wg.Wait()
	return nil
}

// Stop gracefully stops the scheduler. In-flight cycles finish their
// current step; no new cycles start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		slog.Info("Stopping sync scheduler")
		cancel()
		<-s.done
	}
}

// runJob is the single logical worker for one entity type.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	slog.Info("Starting sync job",
		"entity", job.Desc.Type,
		"interval", job.Desc.Interval)

	ticker := time.NewTicker(job.Desc.Interval)
	defer ticker.Stop()

	s.runCycle(ctx, job)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx, job)
		case <-ctx.Done():
			slog.Info("Sync job stopping", "entity", job.Desc.Type)
			return
		}
	}
}

// runCycle executes one fetch-and-persist cycle for the job, wrapped in the
// bounded retry policy. On success the entity's sync status row is upserted;
// on exhausted retries the failure is logged and the loop continues, so the
// next cycle retries from the last known-good status.
func (s *Scheduler) runCycle(ctx context.Context, job Job) {
	entityType := job.Desc.Type
	startTime := time.Now()

	current, err := s.tracker.Get(ctx, entityType)
	if err != nil {
		slog.Error("Failed to load sync status, skipping cycle",
			"entity", entityType, "error", err)
		return
	}

	query := job.Desc.Query
	if current.BackfillCompleted && current.HasSynced() {
		// Incremental: only records modified since the last good cycle.
		query.ModifiedSince = current.LastSyncAt
	}

	outcome, err := retry.Do(ctx, entityType+" sync", func() (engine.Outcome, error) {
		records, fetchErr := s.client.Fetch(ctx, entityType, query)
		if fetchErr != nil {
			return engine.Outcome{}, fetchErr
		}
		return s.engine.Persist(ctx, job.Desc, records)
	}, job.Policy)

	duration := time.Since(startTime)

	if err != nil {
		slog.Error("Sync cycle failed",
			"entity", entityType,
			"duration", duration,
			"error", err)
		s.metrics.RecordSyncDuration(ctx, entityType, duration, false)
		return
	}

	// A cycle with zero records is still a completed sync observation.
	if recordErr := s.tracker.Record(ctx, entityType, true, time.Now()); recordErr != nil {
		slog.Error("Failed to record sync status",
			"entity", entityType, "error", recordErr)
		return
	}

	slog.Info("Sync cycle complete",
		"entity", entityType,
		"duration", duration,
		"total", outcome.Total,
		"new", outcome.New,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped(),
		"failed", outcome.Failed,
		"has_new_data", outcome.HasNewData())

	s.metrics.RecordSyncDuration(ctx, entityType, duration, outcome.Success())
	s.metrics.RecordRecordsProcessed(ctx, entityType, int64(outcome.Total))
}
