// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 168 * time.Hour
)

// tokenKind distinguishes the two token families so a refresh token can
// never pass as an access token even if the signing keys were misconfigured
// to the same value upstream of Validate.
type tokenKind string

const (
	kindAccess  tokenKind = "access"
	kindRefresh tokenKind = "refresh"
)

// TokenConfig holds signing material and lifetimes for both token families.
type TokenConfig struct {
	// AccessKey signs short-lived access tokens.
	AccessKey []byte
	// RefreshKey signs refresh tokens. Must differ from AccessKey.
	RefreshKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Validate checks the config at startup so key problems surface before the
// first request rather than as opaque verification failures.
func (c TokenConfig) Validate() error {
	if len(c.AccessKey) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("access token key cannot be empty")
	}
	if len(c.RefreshKey) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("refresh token key cannot be empty")
	}
	if subtle.ConstantTimeCompare(c.AccessKey, c.RefreshKey) == 1 {
		return oops.Code("CONFIG_INVALID").Errorf("access and refresh token keys must differ")
	}
	if c.AccessTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("access token TTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("refresh token TTL must be positive")
	}
	return nil
}

// Claims is the JWT payload for both token families. The subject carries
// the user ID; kind pins the family the token belongs to.
type Claims struct {
	Kind tokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies signed tokens. Verification of either
// family resolves the owning user; access tokens are additionally checked
// against the password-change instant, refresh tokens against the user's
// live session set.
type TokenIssuer struct {
	cfg   TokenConfig
	users UserRepository

	// now is swappable in tests.
	now func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The config must pass Validate.
func NewTokenIssuer(cfg TokenConfig, users UserRepository) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if users == nil {
		return nil, errors.New("user repository cannot be nil")
	}
	return &TokenIssuer{
		cfg:   cfg,
		users: users,
		now:   time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// MintAccess signs a new access token for the user.
func (i *TokenIssuer) MintAccess(userID ulid.ULID) (string, error) {
	token, _, err := i.mint(kindAccess, userID, i.cfg.AccessKey, i.cfg.AccessTTL)
	return token, err
}

// MintRefresh signs a new refresh token for the user and returns its expiry
// so the session registry can record it.
func (i *TokenIssuer) MintRefresh(userID ulid.ULID) (string, time.Time, error) {
	return i.mint(kindRefresh, userID, i.cfg.RefreshKey, i.cfg.RefreshTTL)
}

func (i *TokenIssuer) mint(kind tokenKind, userID ulid.ULID, key []byte, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").
			With("kind", string(kind)).
			Wrapf(err, "signing %s token", kind)
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies the signature and expiry of an access token and
// returns its claims. Returns ErrTokenExpired for expired tokens and
// ErrTokenInvalid for everything else that fails verification.
func (i *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(kindAccess, token, i.cfg.AccessKey)
}

// ParseRefresh verifies the signature and expiry of a refresh token and
// returns its claims.
func (i *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(kindRefresh, token, i.cfg.RefreshKey)
}

func (i *TokenIssuer) parse(kind tokenKind, token string, key []byte) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Kind != kind {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyAccess resolves an access token to its user. Tokens issued before
// the user's last password change are rejected as invalid.
func (i *TokenIssuer) VerifyAccess(ctx context.Context, token string) (*User, error) {
	claims, err := i.ParseAccess(token)
	if err != nil {
		return nil, err
	}
	user, err := i.resolveSubject(ctx, claims)
	if err != nil {
		return nil, err
	}
	if i.isStale(claims, user) {
		return nil, ErrTokenInvalid
	}
	return user, nil
}

// VerifyRefresh resolves a refresh token to its user and confirms the token
// is a live member of the user's session set. A signed, unexpired token
// outside the set returns ErrTokenRevoked.
func (i *TokenIssuer) VerifyRefresh(ctx context.Context, token string) (*User, error) {
	claims, err := i.ParseRefresh(token)
	if err != nil {
		return nil, err
	}
	user, err := i.resolveSubject(ctx, claims)
	if err != nil {
		return nil, err
	}
	if _, ok := user.findRefreshToken(token, i.now()); !ok {
		return nil, ErrTokenRevoked
	}
	return user, nil
}

func (i *TokenIssuer) resolveSubject(ctx context.Context, claims *Claims) (*User, error) {
	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := i.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading token subject: %w", err)
	}
	return user, nil
}

// isStale reports whether the token predates the user's last password
// change. JWT timestamps carry second precision, so the change instant is
// truncated before comparing.
func (i *TokenIssuer) isStale(claims *Claims, user *User) bool {
	if user.PasswordChangedAt == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}
