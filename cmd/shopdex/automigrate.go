// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// parseAutoMigrate reads SHOPDEX_DB_AUTO_MIGRATE and reports whether the
// serve command should apply pending migrations at startup. Unset means
// enabled. Unrecognized values also mean enabled, with a warning, so a
// typo never silently skips migrations.
func parseAutoMigrate() bool {
	value := os.Getenv("SHOPDEX_DB_AUTO_MIGRATE")
	if value == "" {
		return true
	}

	enabled, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		slog.Warn("unrecognized SHOPDEX_DB_AUTO_MIGRATE value, auto-migration stays enabled",
			"value", value,
		)
		return true
	}
	return enabled
}

// runAutoMigration applies all pending migrations using a migrator from
// the given factory. The migrator is always closed, even when Up fails.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "auto-migration").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator after auto-migration, database connection may leak",
				"error", closeErr,
			)
		}
	}()

	slog.Info("running auto-migration")

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "auto-migration").Wrap(err)
	}

	slog.Info("database schema is up to date")
	return nil
}
