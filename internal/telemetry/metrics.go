package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/syncforge/syncforge/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync cycle metrics
type SyncMetrics struct {
	syncDuration     metric.Float64Histogram
	recordsProcessed metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"syncforge_sync_duration_seconds",
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	recordsProcessed, err := meter.Int64Counter(
		"syncforge_records_processed_total",
		metric.WithDescription("Number of records processed by persistence runs"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:     syncDuration,
		recordsProcessed: recordsProcessed,
	}, nil
}

// RecordSyncDuration records the duration and result of one sync cycle
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, entityType string, d time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("entity", entityType),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRecordsProcessed counts records processed by a persistence run
func (m *SyncMetrics) RecordRecordsProcessed(ctx context.Context, entityType string, count int64) {
	if m == nil || m.recordsProcessed == nil {
		return
	}

	m.recordsProcessed.Add(ctx, count, metric.WithAttributes(
		attribute.String("entity", entityType),
	))
}
