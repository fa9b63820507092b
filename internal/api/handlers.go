// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"

	"github.com/shopdex/shopdex/internal/auth"
	"github.com/shopdex/shopdex/internal/observability"
	"github.com/shopdex/shopdex/pkg/errutil"
)

// AuthHandler serves the authentication endpoints.
type AuthHandler struct {
	svc     *auth.Service
	metrics *observability.Metrics
}

// NewAuthHandler creates an AuthHandler. metrics may be nil.
func NewAuthHandler(svc *auth.Service, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{svc: svc, metrics: metrics}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	All          bool   `json:"all"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// userPayload is the public projection of a user. Credential and
// security-state fields never serialize.
type userPayload struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type sessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userPayload `json:"user"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newUserPayload(user *auth.User) userPayload {
	return userPayload{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
	}
}

func newSessionResponse(user *auth.User, pair *auth.TokenPair) sessionResponse {
	return sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         newUserPayload(user),
	}
}

func errInvalidBody() error {
	return oops.Code("AUTH_VALIDATION").Errorf("invalid request body")
}

// Register creates an account and signs the new user in.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var body registerRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}

	user, pair, err := h.svc.Register(c.UserContext(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		return err
	}

	h.metrics.RecordRegistration()
	return c.Status(fiber.StatusCreated).JSON(newSessionResponse(user, pair))
}

// Login verifies credentials and issues a fresh session.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}

	user, pair, err := h.svc.Login(c.UserContext(), body.Email, body.Password)
	if err != nil {
		switch errutil.CodeOf(err) {
		case "AUTH_INVALID_CREDENTIALS":
			h.metrics.RecordLogin(observability.LoginOutcomeInvalid)
		case "AUTH_ACCOUNT_LOCKED":
			h.metrics.RecordLogin(observability.LoginOutcomeLocked)
		}
		return err
	}

	h.metrics.RecordLogin(observability.LoginOutcomeSuccess)
	return c.JSON(newSessionResponse(user, pair))
}

// Refresh rotates a refresh token and mints a new access token.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body refreshRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}
	if body.RefreshToken == "" {
		return oops.Code("AUTH_VALIDATION").Errorf("refreshToken is required")
	}

	pair, err := h.svc.Refresh(c.UserContext(), body.RefreshToken)
	if err != nil {
		if errutil.CodeOf(err) == "AUTH_TOKEN_REVOKED" {
			h.metrics.RecordTokenRotation(observability.RotationOutcomeReuse)
		}
		return err
	}

	h.metrics.RecordTokenRotation(observability.RotationOutcomeRotated)
	return c.JSON(tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout revokes the presented refresh token, or every session with
// {"all": true}. The body may be omitted entirely.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body logoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return errInvalidBody()
		}
	}

	user := CurrentUser(c)
	if err := h.svc.Logout(c.UserContext(), user.ID, body.RefreshToken, body.All); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "logged out"})
}

// Me returns the authenticated user's public profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.svc.GetUser(c.UserContext(), CurrentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(newUserPayload(user))
}

// ChangePassword swaps the authenticated user's credential.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var body changePasswordRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}

	user := CurrentUser(c)
	if err := h.svc.ChangePassword(c.UserContext(), user.ID, body.CurrentPassword, body.NewPassword); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "password changed"})
}

// ForgotPassword starts a password reset. The response never reveals whether
// the email is registered.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var body forgotPasswordRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}

	if err := h.svc.ForgotPassword(c.UserContext(), body.Email); err != nil {
		return err
	}

	h.metrics.RecordPasswordReset(observability.ResetStageRequested)
	return c.JSON(messageResponse{Message: "if the email is registered, a reset link has been sent"})
}

// ResetPassword redeems a reset token and installs the new password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var body resetPasswordRequest
	if err := c.BodyParser(&body); err != nil {
		return errInvalidBody()
	}

	if err := h.svc.ResetPassword(c.UserContext(), body.Token, body.NewPassword); err != nil {
		return err
	}

	h.metrics.RecordPasswordReset(observability.ResetStageRedeemed)
	return c.JSON(messageResponse{Message: "password has been reset"})
}
