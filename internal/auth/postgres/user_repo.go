// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package postgres implements the auth repositories on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/shopdex/shopdex/internal/auth"
)

// poolIface is the pgxpool.Pool subset the repository needs. Tests satisfy
// it with pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL. Writes go
// through a version compare-and-swap: Update only lands when the stored
// version still matches the one the caller read.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	tokensJSON, err := json.Marshal(user.RefreshTokens)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "marshal refresh tokens").
			Wrap(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, display_name,
			password_changed_at, last_login_at,
			login_attempts, locked_until,
			reset_token_hash, reset_expires_at,
			refresh_tokens, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.PasswordChangedAt,
		user.LastLoginAt,
		user.LoginAttempts,
		user.LockedUntil,
		user.ResetTokenHash,
		user.ResetExpiresAt,
		tokensJSON,
		user.Version,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_EMAIL_TAKEN").
				With("email", user.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name,
		       password_changed_at, last_login_at,
		       login_attempts, locked_until,
		       reset_token_hash, reset_expires_at,
		       refresh_tokens, version, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name,
		       password_changed_at, last_login_at,
		       login_attempts, locked_until,
		       reset_token_hash, reset_expires_at,
		       refresh_tokens, version, created_at, updated_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// GetByResetTokenHash retrieves the user holding the given reset token
// digest.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name,
		       password_changed_at, last_login_at,
		       login_attempts, locked_until,
		       reset_token_hash, reset_expires_at,
		       refresh_tokens, version, created_at, updated_at
		FROM users
		WHERE reset_token_hash = $1
	`, tokenHash)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_FAILED").
			With("operation", "get user by reset token hash").
			Wrap(err)
	}
	return user, nil
}

// Update persists the user iff the stored version matches. On success the
// caller's record observes the bumped version.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	tokensJSON, err := json.Marshal(user.RefreshTokens)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "marshal refresh tokens").
			Wrap(err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			display_name = $4,
			password_changed_at = $5,
			last_login_at = $6,
			login_attempts = $7,
			locked_until = $8,
			reset_token_hash = $9,
			reset_expires_at = $10,
			refresh_tokens = $11,
			updated_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $13
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.PasswordChangedAt,
		user.LastLoginAt,
		user.LoginAttempts,
		user.LockedUntil,
		user.ResetTokenHash,
		user.ResetExpiresAt,
		tokensJSON,
		user.UpdatedAt,
		user.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_EMAIL_TAKEN").
				With("email", user.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		// Zero rows means either the row is gone or a concurrent writer
		// bumped the version first. Look again to tell them apart.
		var current int64
		err := r.pool.QueryRow(ctx, `
			SELECT version FROM users WHERE id = $1
		`, user.ID.String()).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("USER_NOT_FOUND").
				With("id", user.ID.String()).
				Wrap(auth.ErrNotFound)
		}
		if err != nil {
			return oops.Code("USER_UPDATE_FAILED").
				With("operation", "check version").
				With("id", user.ID.String()).
				Wrap(err)
		}
		return oops.Code("USER_VERSION_CONFLICT").
			With("id", user.ID.String()).
			With("expected", user.Version).
			With("current", current).
			Wrap(auth.ErrVersionConflict)
	}

	user.Version++
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *UserRepository) scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr             string
		email             string
		passwordHash      string
		displayName       string
		passwordChangedAt *time.Time
		lastLoginAt       *time.Time
		loginAttempts     int
		lockedUntil       *time.Time
		resetTokenHash    *string
		resetExpiresAt    *time.Time
		tokensJSON        []byte
		version           int64
		createdAt         time.Time
		updatedAt         time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&displayName,
		&passwordChangedAt,
		&lastLoginAt,
		&loginAttempts,
		&lockedUntil,
		&resetTokenHash,
		&resetExpiresAt,
		&tokensJSON,
		&version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	var tokens []auth.RefreshToken
	if len(tokensJSON) > 0 {
		if err := json.Unmarshal(tokensJSON, &tokens); err != nil {
			return nil, oops.Code("USER_INVALID_REFRESH_TOKENS").
				With("operation", "unmarshal refresh tokens").
				Wrap(err)
		}
	}

	return &auth.User{
		ID:                id,
		Email:             email,
		PasswordHash:      passwordHash,
		DisplayName:       displayName,
		PasswordChangedAt: passwordChangedAt,
		LastLoginAt:       lastLoginAt,
		LoginAttempts:     loginAttempts,
		LockedUntil:       lockedUntil,
		ResetTokenHash:    resetTokenHash,
		ResetExpiresAt:    resetExpiresAt,
		RefreshTokens:     tokens,
		Version:           version,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
