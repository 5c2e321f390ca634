package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/syncforge/syncforge/internal/config"
	"github.com/syncforge/syncforge/internal/db"
	"github.com/syncforge/syncforge/internal/engine"
	"github.com/syncforge/syncforge/internal/entity"
	"github.com/syncforge/syncforge/internal/notify"
	"github.com/syncforge/syncforge/internal/retry"
	"github.com/syncforge/syncforge/internal/scheduler"
	"github.com/syncforge/syncforge/internal/status"
	"github.com/syncforge/syncforge/internal/telemetry"
	"github.com/syncforge/syncforge/internal/upstream"
	"github.com/syncforge/syncforge/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine",
	Long: `Start the sync engine: one periodic fetch-and-persist job per configured
entity type, plus the optional order state-transition notifier.

The engine requires a configuration file (--config) that specifies:
- Upstream source system URL and credentials
- Database connection settings
- Entity selection, retry tuning, notifier and metrics settings`,
	RunE: runServe,
}

const shutdownTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"upstream", cfg.Upstream.BaseURL,
		"database", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))

	meterProvider, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithMetricsEnabled(cfg.Metrics.Enabled),
		telemetry.WithMeterEndpoint(cfg.Metrics.Endpoint),
		telemetry.WithMeterInsecure(cfg.Metrics.Insecure),
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer shutdownMeterProvider(meterProvider)

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	client, err := buildUpstreamClient(cfg)
	if err != nil {
		return err
	}

	jobs, err := buildJobs(cfg)
	if err != nil {
		return err
	}

	tracker, err := status.NewDBTracker(pool)
	if err != nil {
		return fmt.Errorf("failed to create sync status tracker: %w", err)
	}

	store, err := engine.NewPGStore(pool)
	if err != nil {
		return fmt.Errorf("failed to create persistence store: %w", err)
	}
	var engineOpts []engine.Option
	if cfg.Sync.BatchSize > 0 {
		engineOpts = append(engineOpts, engine.WithBatchSize(cfg.Sync.BatchSize))
	}
	eng := engine.New(store, engineOpts...)

	sched := scheduler.New(client, eng, tracker, jobs,
		scheduler.WithSyncMetrics(syncMetrics))

	var notifier *notify.Notifier
	if cfg.Notifier.Enabled {
		notifier, err = buildNotifier(cfg, client)
		if err != nil {
			return err
		}
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Start(ctx)
	}()
	if notifier != nil {
		go notifier.Start(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down sync engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if notifier != nil {
			notifier.Stop()
		}
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Error("Shutdown timed out; exiting with in-flight work")
		return shutdownCtx.Err()
	}

	if err := <-schedDone; err != nil {
		return fmt.Errorf("scheduler exited with error: %w", err)
	}

	slog.Info("Sync engine shutdown complete")
	return nil
}

// buildUpstreamClient constructs the authenticated upstream API client.
func buildUpstreamClient(cfg *config.Config) (upstream.Client, error) {
	apiKey, err := cfg.Upstream.GetAPIKey()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Upstream.GetTimeout()
	if err != nil {
		return nil, err
	}
	return upstream.NewHTTPClient(cfg.Upstream.BaseURL, apiKey, timeout), nil
}

// buildJobs resolves the configured entity selection into scheduler jobs
// sharing one retry policy.
func buildJobs(cfg *config.Config) ([]scheduler.Job, error) {
	policy := retry.DefaultPolicy()
	if cfg.Sync.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Sync.MaxAttempts
	}
	baseDelay, err := cfg.Sync.GetBaseDelay()
	if err != nil {
		return nil, err
	}
	if baseDelay > 0 {
		policy.BaseDelay = baseDelay
	}

	var descriptors []entity.Descriptor
	if len(cfg.Sync.Entities) == 0 {
		for _, d := range entity.All() {
			descriptors = append(descriptors, d)
		}
	} else {
		for _, entityType := range cfg.Sync.Entities {
			d, err := entity.ByType(entityType)
			if err != nil {
				return nil, err
			}
			descriptors = append(descriptors, d)
		}
	}

	jobs := make([]scheduler.Job, 0, len(descriptors))
	for _, d := range descriptors {
		jobs = append(jobs, scheduler.Job{Desc: d, Policy: policy})
	}
	return jobs, nil
}

// buildNotifier constructs the order state-transition notifier from config.
func buildNotifier(cfg *config.Config, client upstream.Client) (*notify.Notifier, error) {
	interval, err := cfg.Notifier.GetInterval()
	if err != nil {
		return nil, err
	}

	sink := notify.NewWebhookSink(cfg.Notifier.WebhookURL, 0)
	return notify.New(client, sink, notify.Config{
		Interval: interval,
		Branches: cfg.Notifier.Branches,
		Statuses: cfg.Notifier.Statuses,
	}), nil
}

// shutdownMeterProvider flushes pending metrics when the provider is the SDK
// implementation; the no-op provider has nothing to shut down.
func shutdownMeterProvider(provider metric.MeterProvider) {
	sdkProvider, ok := provider.(*sdkmetric.MeterProvider)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sdkProvider.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down meter provider", "error", err)
	}
}
