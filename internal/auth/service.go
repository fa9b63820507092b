// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenPair is the credential pair returned by login-shaped operations.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service provides the authentication operations behind the /auth routes.
// Sentinel errors from the lower layers are wrapped with stable oops codes
// here; the API layer maps codes to HTTP statuses and never inspects
// sentinels itself.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	issuer   *TokenIssuer
	sessions *SessionRegistry
	resets   *PasswordResetService
	lockout  LockoutPolicy
	log      *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates a Service logging to slog.Default.
func NewService(
	users UserRepository,
	hasher PasswordHasher,
	issuer *TokenIssuer,
	sessions *SessionRegistry,
	resets *PasswordResetService,
	lockout LockoutPolicy,
) (*Service, error) {
	return NewServiceWithLogger(users, hasher, issuer, sessions, resets, lockout, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger for
// security events. All dependencies are required.
func NewServiceWithLogger(
	users UserRepository,
	hasher PasswordHasher,
	issuer *TokenIssuer,
	sessions *SessionRegistry,
	resets *PasswordResetService,
	lockout LockoutPolicy,
	logger *slog.Logger,
) (*Service, error) {
	if users == nil {
		return nil, errors.New("user repository is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if resets == nil {
		return nil, errors.New("password reset service is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		issuer:   issuer,
		sessions: sessions,
		resets:   resets,
		lockout:  lockout.normalized(),
		log:      logger,
		now:      time.Now,
	}, nil
}

// dummyPasswordHash is verified against when a login names an unknown email,
// so unknown and known-but-wrong attempts cost the same hashing work.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*User, *TokenPair, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(email, hash, displayName)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, nil, oops.Code("AUTH_EMAIL_EXISTS").Wrap(ErrEmailTaken)
		}
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	s.log.InfoContext(ctx, "user registered", "event", "register", "user_id", user.ID.String())
	return user, pair, nil
}

// Login authenticates by email and password. A locked account is refused
// before any hash verification runs; the lockout answer does not depend on
// whether the password was right. Unknown emails still pay for a dummy
// verification so they are not distinguishable from wrong passwords by
// response time.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	email = NormalizeEmail(email)

	user, lookupErr := s.users.GetByEmail(ctx, email)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			_, _ = s.hasher.Verify(password, dummyPasswordHash) //nolint:errcheck // Burn the hashing cost; the outcome cannot matter
			return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	if user.IsLockedAt(s.now()) {
		return nil, nil, lockedError(user.LockedUntil)
	}

	valid, verifyErr := s.hasher.Verify(password, user.PasswordHash)
	if verifyErr != nil {
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !valid {
		locked, lockedUntil, err := s.recordLoginFailure(ctx, user.ID)
		if err != nil {
			return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "record failed attempt").
				Wrap(err)
		}
		if locked {
			s.log.WarnContext(ctx, "account locked after repeated failures",
				"event", "lockout",
				"user_id", user.ID.String(),
				"locked_until", lockedUntil,
			)
			return nil, nil, lockedError(lockedUntil)
		}
		return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	signedIn, err := s.recordLoginSuccess(ctx, user.ID, password)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, signedIn.ID)
	if err != nil {
		return nil, nil, err
	}

	s.log.InfoContext(ctx, "login succeeded", "event", "login", "user_id", signedIn.ID.String())
	return signedIn, pair, nil
}

// Refresh rotates a refresh token and mints a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	user, next, err := s.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			s.log.WarnContext(ctx, "refresh token reuse rejected", "event", "token_reuse")
		}
		return nil, wrapTokenError(err, "rotate refresh token")
	}

	access, err := s.issuer.MintAccess(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "mint access token").
			Wrap(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: next}, nil
}

// Authenticate resolves a bearer access token to its user. Used by the
// request middleware on authenticated routes.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, error) {
	user, err := s.issuer.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, wrapTokenError(err, "verify access token")
	}
	return user, nil
}

// Logout revokes sessions of the authenticated user: every session when all
// is set, otherwise the single presented refresh token. An empty token with
// all unset is a no-op; the client simply discards its access token.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID, refreshToken string, all bool) error {
	var err error
	switch {
	case all:
		err = s.sessions.RevokeAll(ctx, userID)
	case refreshToken != "":
		err = s.sessions.Revoke(ctx, userID, refreshToken)
	default:
		return nil
	}
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.log.InfoContext(ctx, "logout", "event", "logout", "user_id", userID.String(), "all", all)
	return nil
}

// GetUser loads a user by ID for the /auth/me projection.
func (s *Service) GetUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_GET_USER_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return user, nil
}

// ChangePassword swaps the credential of an authenticated user. The current
// password must verify and the new one must actually differ. The password
// change instant invalidates access tokens issued before it; refresh tokens
// stay live so other devices keep their sessions.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	valid, verifyErr := s.hasher.Verify(currentPassword, user.PasswordHash)
	if verifyErr != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !valid {
		return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}
	if newPassword == currentPassword {
		return oops.Code("AUTH_SAME_PASSWORD").Wrap(ErrSamePassword)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = withConflictRetry(ctx, func(ctx context.Context) error {
		fresh, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		fresh.SetPassword(newHash, s.now())
		return s.users.Update(ctx, fresh)
	})
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update user").
			Wrap(err)
	}

	s.log.InfoContext(ctx, "password changed", "event", "password_change", "user_id", userID.String())
	return nil
}

// ForgotPassword starts the reset flow. Always succeeds for well-formed
// requests regardless of whether the email is registered.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	return s.resets.Request(ctx, email)
}

// ResetPassword redeems a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.resets.Redeem(ctx, token, newPassword)
	if err == nil {
		s.log.InfoContext(ctx, "password reset redeemed", "event", "password_reset")
		return nil
	}
	if errors.Is(err, ErrResetTokenNotFound) {
		return oops.Code("AUTH_RESET_TOKEN_NOT_FOUND").Wrap(ErrResetTokenNotFound)
	}
	return err
}

// issuePair records a refresh session for the user and mints the matching
// access token.
func (s *Service) issuePair(ctx context.Context, userID ulid.ULID) (*TokenPair, error) {
	refresh, err := s.sessions.Issue(ctx, userID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	access, err := s.issuer.MintAccess(userID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_ISSUE_FAILED").
			With("operation", "mint access token").
			Wrap(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// recordLoginFailure persists one failed attempt and reports whether the
// account is locked afterwards. Attempts landing while the account is
// already locked are not counted.
func (s *Service) recordLoginFailure(ctx context.Context, userID ulid.ULID) (locked bool, lockedUntil *time.Time, err error) {
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if user.IsLockedAt(now) {
			locked, lockedUntil = true, user.LockedUntil
			return nil
		}
		user.RecordFailure(s.lockout, now)
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		locked, lockedUntil = user.IsLockedAt(now), user.LockedUntil
		return nil
	})
	return locked, lockedUntil, err
}

// recordLoginSuccess persists the success transition, upgrading the stored
// hash in passing when its parameters are out of date. A lockout that
// landed between verification and this write still wins.
func (s *Service) recordLoginSuccess(ctx context.Context, userID ulid.ULID, password string) (*User, error) {
	var out *User
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		if user.IsLockedAt(now) {
			return lockedError(user.LockedUntil)
		}
		user.RecordSuccess(now)
		if s.hasher.NeedsUpgrade(user.PasswordHash) {
			// Plain reassignment: an upgraded hash of the same password
			// must not bump PasswordChangedAt.
			if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
				user.PasswordHash = newHash
			}
		}
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		out = user
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return nil, err
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "record login").
			Wrap(err)
	}
	return out, nil
}

func lockedError(lockedUntil *time.Time) error {
	b := oops.Code("AUTH_ACCOUNT_LOCKED")
	if lockedUntil != nil {
		b = b.With("locked_until", lockedUntil.UTC())
	}
	return b.Wrap(ErrAccountLocked)
}

// wrapTokenError maps the token sentinels onto their stable codes.
func wrapTokenError(err error, op string) error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return oops.Code("AUTH_TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	case errors.Is(err, ErrTokenRevoked):
		return oops.Code("AUTH_TOKEN_REVOKED").Wrap(ErrTokenRevoked)
	case errors.Is(err, ErrTokenInvalid):
		return oops.Code("AUTH_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	default:
		return oops.Code("AUTH_TOKEN_VERIFY_FAILED").
			With("operation", op).
			Wrap(err)
	}
}
