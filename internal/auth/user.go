// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Credential validation constraints.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128

	MaxEmailLength       = 254
	MaxDisplayNameLength = 100
)

// emailRegex is a pragmatic format check: one @, no whitespace, a dot in
// the domain part. Deliverability is the mail collaborator's problem.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User represents an account and its complete security state. The record is
// owned by the credential store; every mutation goes through Update so the
// version counter can arbitrate concurrent writers.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	DisplayName  string

	// PasswordChangedAt is nil until the first password change or reset.
	// Access tokens issued before it are stale.
	PasswordChangedAt *time.Time
	LastLoginAt       *time.Time

	LoginAttempts int
	LockedUntil   *time.Time

	ResetTokenHash *string
	ResetExpiresAt *time.Time

	// RefreshTokens holds the live session set. Entries past their expiry
	// are treated as absent regardless of when they get pruned.
	RefreshTokens []RefreshToken

	// Version is bumped by every successful repository Update. Stale
	// writers observe ErrVersionConflict and retry from a fresh read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser creates a validated User with a hashed credential.
// Email is normalized; the password must already be hashed.
func NewUser(email, passwordHash, displayName string) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_VALIDATION").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(displayName),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail validates an email address format.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_VALIDATION").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_VALIDATION").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_VALIDATION").Errorf("email format is invalid")
	}
	return nil
}

// ValidatePassword validates a plaintext password against the policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_VALIDATION").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_VALIDATION").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// ValidateDisplayName validates a display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return oops.Code("AUTH_VALIDATION").Errorf("display name cannot be empty")
	}
	if len(name) > MaxDisplayNameLength {
		return oops.Code("AUTH_VALIDATION").
			With("max", MaxDisplayNameLength).
			Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	}
	return nil
}

// IsLocked returns true if the account is currently locked out.
func (u *User) IsLocked() bool {
	return u.IsLockedAt(time.Now())
}

// IsLockedAt returns true if the account would be locked at the given time.
func (u *User) IsLockedAt(t time.Time) bool {
	return IsLockedOut(u.LockedUntil, t)
}

// RecordFailure increments the failure counter and sets the lockout expiry
// when the policy threshold is crossed. Failures while already locked are
// not counted; the lockout itself refuses the attempt.
func (u *User) RecordFailure(policy LockoutPolicy, now time.Time) {
	if u.IsLockedAt(now) {
		return
	}
	u.LoginAttempts++
	u.LockedUntil = policy.ComputeLockoutTime(u.LoginAttempts, now)
	u.UpdatedAt = now
}

// RecordSuccess resets the failure counter, clears any lockout, and stamps
// the login time.
func (u *User) RecordSuccess(now time.Time) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.UpdatedAt = now
}

// SetPassword replaces the credential and stamps PasswordChangedAt, which
// invalidates access tokens issued before this instant.
func (u *User) SetPassword(passwordHash string, now time.Time) {
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &now
	u.UpdatedAt = now
}

// SetResetRequest stores a reset token digest and its expiry, replacing any
// previous request.
func (u *User) SetResetRequest(tokenHash string, expiresAt, now time.Time) {
	u.ResetTokenHash = &tokenHash
	u.ResetExpiresAt = &expiresAt
	u.UpdatedAt = now
}

// ClearResetRequest removes any pending reset request.
func (u *User) ClearResetRequest(now time.Time) {
	u.ResetTokenHash = nil
	u.ResetExpiresAt = nil
	u.UpdatedAt = now
}

// HasLiveResetAt returns true if a reset request exists and has not expired
// at the given instant.
func (u *User) HasLiveResetAt(t time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetExpiresAt != nil && u.ResetExpiresAt.After(t)
}

// Clone returns a deep copy. Repositories hand out clones so callers can
// mutate freely before persisting.
func (u *User) Clone() *User {
	c := *u
	c.PasswordChangedAt = copyTime(u.PasswordChangedAt)
	c.LastLoginAt = copyTime(u.LastLoginAt)
	c.LockedUntil = copyTime(u.LockedUntil)
	c.ResetExpiresAt = copyTime(u.ResetExpiresAt)
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.RefreshTokens != nil {
		c.RefreshTokens = make([]RefreshToken, len(u.RefreshTokens))
		copy(c.RefreshTokens, u.RefreshTokens)
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// UserRepository manages account persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken when the normalized
	// email already exists.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByResetTokenHash retrieves the user holding the given reset token
	// digest. Returns ErrNotFound when absent.
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// Update persists the user iff the stored version matches user.Version,
	// writing the bumped version back into user on success. Returns
	// ErrVersionConflict when a concurrent writer got there first,
	// ErrNotFound when the row is gone.
	Update(ctx context.Context, user *User) error
}
