package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/config"
	"github.com/shopdex/shopdex/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DBFactory creates a database handle from a connection URL.
	// Default: store.NewDB
	DBFactory func(ctx context.Context, url string) (Database, error)

	// MigratorFactory creates a migrator for auto-migration at startup.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// AutoMigrateGetter reports whether startup auto-migration is enabled.
	// Default: reads from SHOPDEX_DB_AUTO_MIGRATE environment variable
	AutoMigrateGetter func() bool

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// AppFactory creates the HTTP application.
	// Default: api.NewApp
	AppFactory func(cfg config.ServerConfig, svc *auth.Service, metrics *observability.Metrics, log *slog.Logger) WebApp
}

// Database interface wraps the methods used by serve from store.DB.
type Database interface {
	Pool() *pgxpool.Pool
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator interface wraps the methods used from store.Migrator
// during startup auto-migration.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// WebApp interface wraps the methods used from fiber.App.
type WebApp interface {
	Listen(addr string) error
	ShutdownWithTimeout(timeout time.Duration) error
}
