// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/shopdex/shopdex/internal/mail"
)

// PasswordResetService runs the forgot/reset password flow. Reset state
// lives on the user record: a sha256 digest of the outstanding token plus
// its expiry. A token is single-use because redemption clears the digest in
// the same compare-and-swap write that installs the new credential.
type PasswordResetService struct {
	users  UserRepository
	hasher PasswordHasher
	mailer mail.Sender

	// baseURL prefixes the reset link placed in outbound mail.
	baseURL string
	ttl     time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewPasswordResetService creates a PasswordResetService. A non-positive
// ttl falls back to DefaultResetTokenTTL.
func NewPasswordResetService(users UserRepository, hasher PasswordHasher, mailer mail.Sender, baseURL string, ttl time.Duration) (*PasswordResetService, error) {
	if users == nil {
		return nil, errors.New("user repository cannot be nil")
	}
	if hasher == nil {
		return nil, errors.New("password hasher cannot be nil")
	}
	if mailer == nil {
		return nil, errors.New("mail sender cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &PasswordResetService{
		users:   users,
		hasher:  hasher,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Request starts a reset for the given email. Unknown addresses succeed
// silently to prevent enumeration; known addresses get a fresh token that
// replaces any outstanding one.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GenerateResetToken").
			Wrap(err)
	}

	expiresAt := s.now().Add(s.ttl)
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		fresh, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		fresh.SetResetRequest(hash, expiresAt, s.now())
		return s.users.Update(ctx, fresh)
	})
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Update").
			Wrap(err)
	}

	if err := s.mailer.Send(ctx, s.resetMessage(user, token)); err != nil {
		// The stored digest is useless without the mail, so roll it back.
		//nolint:errcheck // Rollback failure is acceptable; the request expires on its own
		withConflictRetry(ctx, func(ctx context.Context) error {
			fresh, err := s.users.GetByID(ctx, user.ID)
			if err != nil {
				return err
			}
			fresh.ClearResetRequest(s.now())
			return s.users.Update(ctx, fresh)
		})
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Send").
			Wrap(err)
	}

	return nil
}

// Redeem consumes a reset token and installs the new password. The write
// that replaces the credential also clears the reset digest, resets the
// failure counter, lifts any lockout, and revokes every session, so a
// stolen token observed in transit is worthless once the owner has used it.
// Invalid, expired, and already-used tokens are indistinguishable to the
// caller: all return ErrResetTokenNotFound.
func (s *PasswordResetService) Redeem(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrResetTokenNotFound
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}

	digest := HashResetToken(token)
	return withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByResetTokenHash(ctx, digest)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrResetTokenNotFound
			}
			return err
		}
		now := s.now()
		if !user.HasLiveResetAt(now) {
			return ErrResetTokenNotFound
		}

		user.SetPassword(newHash, now)
		user.ClearResetRequest(now)
		user.LoginAttempts = 0
		user.LockedUntil = nil
		user.clearRefreshTokens(now)
		return s.users.Update(ctx, user)
	})
}

func (s *PasswordResetService) resetMessage(user *User, token string) mail.Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	return mail.Message{
		To:      user.Email,
		Subject: "Reset your Shopdex password",
		Body: fmt.Sprintf(
			"Hi %s,\n\nA password reset was requested for your account. "+
				"Follow the link below within %s to choose a new password:\n\n%s\n\n"+
				"If you did not request this, you can ignore this message.\n",
			user.DisplayName, s.ttl, link,
		),
	}
}
