// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package api serves the authentication HTTP surface.
package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/config"
	"github.com/shopdex/shopdex/internal/observability"
)

// Router mounts the HTTP routes. Nil handlers are skipped, so callers can
// register only the surfaces they have wired up.
type Router struct {
	Auth *AuthHandler

	// AuthMW guards the endpoints that require a signed-in user.
	AuthMW fiber.Handler

	// Limiter, when set, throttles the credential-guessing targets
	// (login and forgot-password).
	Limiter fiber.Handler
}

// RegisterRoutes attaches all configured routes to app.
func (r *Router) RegisterRoutes(app *fiber.App) {
	if r.Auth == nil {
		return
	}

	grp := app.Group("/auth")

	if r.Limiter != nil {
		grp.Post("/login", r.Limiter, r.Auth.Login)
		grp.Post("/forgot-password", r.Limiter, r.Auth.ForgotPassword)
	} else {
		grp.Post("/login", r.Auth.Login)
		grp.Post("/forgot-password", r.Auth.ForgotPassword)
	}

	grp.Post("/register", r.Auth.Register)
	grp.Post("/refresh", r.Auth.Refresh)
	grp.Post("/reset-password", r.Auth.ResetPassword)

	if r.AuthMW != nil {
		grp.Post("/logout", r.AuthMW, r.Auth.Logout)
		grp.Get("/me", r.AuthMW, r.Auth.Me)
		grp.Put("/change-password", r.AuthMW, r.Auth.ChangePassword)
	}
}

// NewRateLimiter builds a per-IP limiter for the brute-forceable endpoints.
func NewRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window.Std(),
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return respondError(c, "RATE_LIMITED", "too many requests", fiber.StatusTooManyRequests)
		},
	})
}

// NewApp assembles the fiber application: error envelope, request IDs,
// panic recovery, metrics, and the auth routes.
func NewApp(cfg config.ServerConfig, svc *auth.Service, metrics *observability.Metrics, log *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "shopdex",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestContext())
	app.Use(HTTPMetrics(metrics))
	if cfg.CSRFEnabled {
		app.Use(csrf.New())
	}

	router := &Router{
		Auth:   NewAuthHandler(svc, metrics),
		AuthMW: RequireAuth(svc),
	}
	if cfg.RateLimit.Enabled {
		router.Limiter = NewRateLimiter(cfg.RateLimit)
	}
	router.RegisterRoutes(app)

	return app
}
