// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package api

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/samber/oops"

	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/logging"
	"github.com/shopdex/shopdex/internal/observability"
)

// localUser is the fiber locals key holding the authenticated user.
const localUser = "auth_user"

// RequestContext copies the id assigned by the requestid middleware into the
// request-scoped slog attributes, so every log line written while serving
// the request carries it.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok && rid != "" {
			ctx := logging.ContextWithAttrs(c.UserContext(), slog.String("request_id", rid))
			c.SetUserContext(ctx)
		}
		return c.Next()
	}
}

// HTTPMetrics counts every request by method, route pattern and final status.
func HTTPMetrics(metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			// The error handler has not run yet; mirror the status it will write.
			status = statusForError(err)
		}
		metrics.RecordHTTPRequest(c.Method(), c.Route().Path, status)
		return err
	}
}

// RequireAuth rejects requests without a valid bearer access token and
// stashes the authenticated user in the request locals.
func RequireAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return oops.Code("AUTH_UNAUTHORIZED").Errorf("missing authorization header")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return oops.Code("AUTH_UNAUTHORIZED").Errorf("authorization header must be a bearer token")
		}

		user, err := svc.Authenticate(c.UserContext(), parts[1])
		if err != nil {
			return err
		}

		c.Locals(localUser, user)
		ctx := logging.ContextWithAttrs(c.UserContext(), slog.String("user_id", user.ID.String()))
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth, or nil outside an
// authenticated route.
func CurrentUser(c *fiber.Ctx) *auth.User {
	user, _ := c.Locals(localUser).(*auth.User)
	return user
}
