// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package main

import (
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shopdex/shopdex/internal/config"
	"github.com/shopdex/shopdex/internal/store"
)

// migrateConfig holds configuration for the migrate command.
type migrateConfig struct {
	down        bool
	steps       int
	force       string
	showVersion bool
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cfg := &migrateConfig{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply pending schema migrations to the PostgreSQL database.

Without flags every pending migration is applied. Use --steps to apply
or roll back a fixed number, --down to roll everything back, and --force
to override the recorded version after repairing a dirty state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.down, "down", false, "roll back all migrations (destructive)")
	cmd.Flags().IntVar(&cfg.steps, "steps", 0, "apply n migrations; negative n rolls back")
	cmd.Flags().StringVar(&cfg.force, "force", "", "set the schema version without running migrations")
	cmd.Flags().BoolVar(&cfg.showVersion, "version", false, "print the current schema version and pending migrations")

	return cmd
}

func runMigrate(cmd *cobra.Command, cfg *migrateConfig) error {
	databaseURL, err := getDatabaseURL()
	if err != nil {
		return err
	}

	cmd.Println("Connecting to database...")
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	switch {
	case cfg.showVersion:
		return printSchemaVersion(cmd, migrator)

	case cfg.force != "":
		version, err := parseForceVersion(cfg.force)
		if err != nil {
			return err
		}
		if err := migrator.Force(version); err != nil {
			return err
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil

	case cfg.down:
		cmd.Println("Rolling back all migrations...")
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed successfully")
		return nil

	case cfg.steps != 0:
		cmd.Printf("Applying %d migration step(s)...\n", cfg.steps)
		if err := migrator.Steps(cfg.steps); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil

	default:
		pending, err := migrator.PendingMigrations()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			cmd.Println("Database schema is up to date")
			return nil
		}
		for _, version := range pending {
			cmd.Printf("Pending: %s\n", migrationLabel(version))
		}
		cmd.Println("Running migrations...")
		if err := migrator.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil
	}
}

// printSchemaVersion reports the current version, dirty state and any
// pending migrations without changing the database.
func printSchemaVersion(cmd *cobra.Command, migrator *store.Migrator) error {
	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("No migrations applied")
	} else {
		cmd.Printf("Current version: %s\n", migrationLabel(version))
	}
	if dirty {
		cmd.Println("State: dirty - repair the database, then use --force to reset the version")
	}

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(pending))
	for _, v := range pending {
		cmd.Printf("  %s\n", migrationLabel(v))
	}
	return nil
}

// migrationLabel renders a version with its migration name when the
// embedded source knows it, falling back to the bare number.
func migrationLabel(version uint) string {
	name, err := store.MigrationName(version)
	if err != nil || name == "" {
		return fmt.Sprintf("%06d", version)
	}
	return name
}

// parseForceVersion parses the --force flag value. Sscanf tolerates
// leading whitespace and stops at the first non-digit, so "3abc" parses
// as 3; empty or fully non-numeric input is an error.
func parseForceVersion(input string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(input, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", input).Wrap(err)
	}
	return version, nil
}

// getDatabaseURL resolves the database URL from the config file, the
// environment (DATABASE_URL or SHOPDEX_DATABASE_URL) or flags.
func getDatabaseURL() (string, error) {
	cfg, err := config.Load(resolveConfigFile(), nil)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database URL is required; set database.url or DATABASE_URL")
	}
	return cfg.Database.URL, nil
}
