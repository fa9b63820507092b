// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RefreshToken is one live session entry in a user's refresh set.
type RefreshToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the entry has expired.
func (t RefreshToken) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the entry would be expired at the given time.
// Useful for testing with deterministic time values.
func (t RefreshToken) IsExpiredAt(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// findRefreshToken returns the index of a live matching entry. Expired
// entries never match, whether or not they have been pruned yet.
func (u *User) findRefreshToken(token string, now time.Time) (int, bool) {
	for i, rt := range u.RefreshTokens {
		if rt.Token == token && !rt.IsExpiredAt(now) {
			return i, true
		}
	}
	return -1, false
}

// addRefreshToken appends a session entry.
func (u *User) addRefreshToken(token string, expiresAt time.Time) {
	u.RefreshTokens = append(u.RefreshTokens, RefreshToken{Token: token, ExpiresAt: expiresAt})
}

// removeRefreshToken removes the entry matching token, reporting whether it
// was present.
func (u *User) removeRefreshToken(token string) bool {
	for i, rt := range u.RefreshTokens {
		if rt.Token == token {
			u.RefreshTokens = append(u.RefreshTokens[:i], u.RefreshTokens[i+1:]...)
			return true
		}
	}
	return false
}

// pruneRefreshTokens drops expired entries.
func (u *User) pruneRefreshTokens(now time.Time) {
	live := u.RefreshTokens[:0]
	for _, rt := range u.RefreshTokens {
		if !rt.IsExpiredAt(now) {
			live = append(live, rt)
		}
	}
	u.RefreshTokens = live
}

// clearRefreshTokens revokes every session.
func (u *User) clearRefreshTokens(now time.Time) {
	u.RefreshTokens = nil
	u.UpdatedAt = now
}

// SessionRegistry manages the refresh-token set of each user: issuing new
// sessions, rotating tokens on use, and revoking them on logout. Every
// mutation is a compare-and-swap through the user repository, retried on
// version conflicts, so concurrent rotations of the same token settle to
// exactly one winner.
type SessionRegistry struct {
	users  UserRepository
	issuer *TokenIssuer

	// revokeOnReuse clears the whole session set when a rotated-out token
	// is presented again, treating the replay as a compromised session.
	revokeOnReuse bool

	// now is swappable in tests.
	now func() time.Time
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(users UserRepository, issuer *TokenIssuer, revokeOnReuse bool) (*SessionRegistry, error) {
	if users == nil {
		return nil, errors.New("user repository cannot be nil")
	}
	if issuer == nil {
		return nil, errors.New("token issuer cannot be nil")
	}
	return &SessionRegistry{
		users:         users,
		issuer:        issuer,
		revokeOnReuse: revokeOnReuse,
		now:           time.Now,
	}, nil
}

// Issue mints a refresh token for the user and records it in their session
// set. Expired entries are pruned on the way through.
func (r *SessionRegistry) Issue(ctx context.Context, userID ulid.ULID) (string, error) {
	var token string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		minted, expiresAt, err := r.issuer.MintRefresh(user.ID)
		if err != nil {
			return err
		}
		now := r.now()
		user.pruneRefreshTokens(now)
		user.addRefreshToken(minted, expiresAt)
		user.UpdatedAt = now
		if err := r.users.Update(ctx, user); err != nil {
			return err
		}
		token = minted
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("issuing session: %w", err)
	}
	return token, nil
}

// Rotate exchanges a live refresh token for a fresh one, removing the
// presented token from the session set. Presenting a token that was already
// rotated out returns ErrTokenRevoked; when reuse revocation is enabled the
// user's remaining sessions are cleared first.
func (r *SessionRegistry) Rotate(ctx context.Context, presented string) (*User, string, error) {
	claims, err := r.issuer.ParseRefresh(presented)
	if err != nil {
		return nil, "", err
	}
	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, "", ErrTokenInvalid
	}

	var (
		rotated *User
		next    string
	)
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrTokenInvalid
			}
			return err
		}
		now := r.now()
		if _, ok := user.findRefreshToken(presented, now); !ok {
			if r.revokeOnReuse && len(user.RefreshTokens) > 0 {
				user.clearRefreshTokens(now)
				if err := r.users.Update(ctx, user); err != nil {
					return err
				}
			}
			return ErrTokenRevoked
		}
		user.removeRefreshToken(presented)
		minted, expiresAt, err := r.issuer.MintRefresh(user.ID)
		if err != nil {
			return err
		}
		user.pruneRefreshTokens(now)
		user.addRefreshToken(minted, expiresAt)
		user.UpdatedAt = now
		if err := r.users.Update(ctx, user); err != nil {
			return err
		}
		rotated = user
		next = minted
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return rotated, next, nil
}

// Revoke removes one refresh token from the user's session set. Revoking a
// token that is already gone is not an error.
func (r *SessionRegistry) Revoke(ctx context.Context, userID ulid.ULID, token string) error {
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.removeRefreshToken(token) {
			return nil
		}
		user.UpdatedAt = r.now()
		return r.users.Update(ctx, user)
	})
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAll clears the user's entire session set.
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID ulid.ULID) error {
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if len(user.RefreshTokens) == 0 {
			return nil
		}
		user.clearRefreshTokens(r.now())
		return r.users.Update(ctx, user)
	})
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}
