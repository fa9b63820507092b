// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopdex/shopdex/internal/api"
	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/auth/postgres"
	"github.com/shopdex/shopdex/internal/config"
	"github.com/shopdex/shopdex/internal/logging"
	"github.com/shopdex/shopdex/internal/mail"
	"github.com/shopdex/shopdex/internal/observability"
	"github.com/shopdex/shopdex/internal/store"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server which handles account registration,
login, token refresh, and password recovery.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.BindFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	// Set up default factories
	if deps.DBFactory == nil {
		deps.DBFactory = func(ctx context.Context, url string) (Database, error) {
			return store.NewDB(ctx, url)
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.AutoMigrateGetter == nil {
		deps.AutoMigrateGetter = parseAutoMigrate
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.AppFactory == nil {
		deps.AppFactory = func(cfg config.ServerConfig, svc *auth.Service, metrics *observability.Metrics, log *slog.Logger) WebApp {
			return api.NewApp(cfg, svc, metrics, log)
		}
	}

	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("shopdex", version, cfg.Log.Format)
	logger := slog.Default()

	slog.Info("starting server",
		"addr", cfg.Server.Addr,
		"log_format", cfg.Log.Format,
	)

	db, err := deps.DBFactory(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("connected to database")

	if deps.AutoMigrateGetter() {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	} else {
		slog.Info("auto-migration disabled")
	}

	users := postgres.NewUserRepository(db.Pool())
	hasher := auth.NewArgon2idHasher()

	issuer, err := auth.NewTokenIssuer(cfg.TokenConfig(), users)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	sessions, err := auth.NewSessionRegistry(users, issuer, cfg.Auth.RevokeOnReuse)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	mailer := mail.NewLogSender(logger)
	resets, err := auth.NewPasswordResetService(users, hasher, mailer, cfg.Server.BaseURL, cfg.Auth.ResetTokenTTL.Std())
	if err != nil {
		return fmt.Errorf("failed to create password reset service: %w", err)
	}
	svc, err := auth.NewServiceWithLogger(users, hasher, issuer, sessions, resets, cfg.LockoutPolicy(), logger)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Readiness means the database still answers a ping.
	readiness := func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return db.Ping(pingCtx) == nil
	}

	obsServer := deps.ObservabilityServerFactory(cfg.Observability.MetricsAddr, readiness)
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	// Monitor observability server errors - cancel context on error
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	slog.Info("observability server started", "addr", obsServer.Addr())

	app := deps.AppFactory(cfg.Server, svc, obsServer.Metrics(), logger)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if listenErr := app.Listen(cfg.Server.Addr); listenErr != nil {
			errChan <- listenErr
		}
	}()

	cmd.Println("Shopdex server started")
	slog.Info("server ready",
		"addr", cfg.Server.Addr,
		"metrics_addr", obsServer.Addr(),
	)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		slog.Warn("error stopping http server", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := obsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
