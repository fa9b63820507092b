// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/shopdex/shopdex/pkg/errutil"
)

// ErrorResponse is the envelope every failed request returns.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// statusByCode maps the stable client-facing oops codes onto HTTP statuses.
// Codes outside this map are internal and collapse to a generic 500.
var statusByCode = map[string]int{
	"AUTH_VALIDATION":            fiber.StatusBadRequest,
	"AUTH_SAME_PASSWORD":         fiber.StatusBadRequest,
	"AUTH_UNAUTHORIZED":          fiber.StatusUnauthorized,
	"AUTH_INVALID_CREDENTIALS":   fiber.StatusUnauthorized,
	"AUTH_TOKEN_INVALID":         fiber.StatusUnauthorized,
	"AUTH_TOKEN_EXPIRED":         fiber.StatusUnauthorized,
	"AUTH_TOKEN_REVOKED":         fiber.StatusUnauthorized,
	"AUTH_USER_NOT_FOUND":        fiber.StatusNotFound,
	"AUTH_RESET_TOKEN_NOT_FOUND": fiber.StatusNotFound,
	"AUTH_EMAIL_EXISTS":          fiber.StatusConflict,
	"AUTH_ACCOUNT_LOCKED":        fiber.StatusTooManyRequests,
}

// ErrorHandler translates errors escaping the handlers into the JSON
// envelope. Client-facing oops codes keep their message; everything else is
// logged with its full chain and reported as a generic internal error.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return respondError(c, codeForStatus(fiberErr.Code), fiberErr.Message, fiberErr.Code)
		}

		if code := errutil.CodeOf(err); code != "" {
			if status, ok := statusByCode[code]; ok {
				return respondError(c, code, err.Error(), status)
			}
		}

		errutil.LogError(log, "request failed", err)
		return respondError(c, "INTERNAL", "internal server error", fiber.StatusInternalServerError)
	}
}

func respondError(c *fiber.Ctx, code, message string, status int) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:       code,
		Message:    message,
		StatusCode: status,
	})
}

// codeForStatus names errors raised by fiber itself (unknown routes, bad
// methods, middleware rejections) in the envelope's code vocabulary.
func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}

// statusForError reports the status the error handler will write for err.
// The metrics middleware uses it to label requests whose error has not been
// rendered yet.
func statusForError(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	if status, ok := statusByCode[errutil.CodeOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}
