package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/syncforge/syncforge/database"
	"github.com/syncforge/syncforge/internal/config"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, cfg, steps, err := migratorFromFlags(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	slog.Info("Applying database migrations",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database)

	if steps > 0 {
		err = m.Steps(int(steps))
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("Database schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logVersion(m)
	return nil
}

// migratorFromFlags loads config, confirms with the user unless --yes, and
// builds the migrator. Shared by the up and down subcommands.
func migratorFromFlags(cmd *cobra.Command) (database.Migrator, *config.Config, uint, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to get config flag: %w", err)
	}
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to get yes flag: %w", err)
	}
	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	cfg, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to load config: %w", err)
	}

	if !yes {
		slog.Info("About to migrate database",
			"user", cfg.Database.User,
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Database)
		fmt.Print("Continue? (yes/no): ")
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read user input: %w", err)
		}
		if response != "yes" && response != "y" {
			return nil, nil, 0, fmt.Errorf("migration cancelled by user")
		}
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to build connection string: %w", err)
	}

	m, err := database.NewFromConnectionString(connString)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, cfg, steps, nil
}

func closeMigrator(m database.Migrator) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		slog.Error("Error closing migration source", "error", sourceErr)
	}
	if dbErr != nil {
		slog.Error("Error closing migration database connection", "error", dbErr)
	}
}

func logVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}
}
