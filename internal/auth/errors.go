// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import "errors"

// Sentinel errors for the authentication domain. Services wrap these with
// oops codes at the boundary; callers branch with errors.Is.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when creating an account with an email
	// that already exists (case-insensitive).
	ErrEmailTaken = errors.New("email already registered")

	// ErrVersionConflict is returned by repositories when an update loses
	// the compare-and-swap race against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidCredentials is returned when an email/password pair does
	// not authenticate. The same error covers unknown emails.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned when authentication is refused because
	// the account is under a lockout window.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrTokenInvalid is returned for malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned for refresh tokens that verify
	// cryptographically but are no longer in the holder's live session set.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrSamePassword is returned when a password change supplies a new
	// password equal to the current one.
	ErrSamePassword = errors.New("new password must differ from current password")

	// ErrResetTokenNotFound is returned when a reset token does not match
	// any live request. Expired and redeemed tokens are indistinguishable
	// from tokens that never existed.
	ErrResetTokenNotFound = errors.New("reset token not found")
)
