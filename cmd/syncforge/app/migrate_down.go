package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Long: `Roll back database migrations. With --num-steps the rollback is limited to
that many migrations; otherwise the whole schema is reverted.`,
	RunE: runMigrateDown,
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, cfg, steps, err := migratorFromFlags(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	slog.Info("Rolling back database migrations",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
		"steps", steps)

	if steps > 0 {
		err = m.Steps(-int(steps))
	} else {
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("No migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}

	logVersion(m)
	return nil
}
