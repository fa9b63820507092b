// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package memory provides an in-memory auth.UserRepository with the same
// compare-and-swap contract as the postgres implementation. It backs unit
// tests and single-process development runs; nothing persists across
// restarts.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/shopdex/shopdex/internal/auth"
)

// UserRepository stores users in a map guarded by a mutex. Records are
// cloned on the way in and out so callers never share memory with the
// store, and Update enforces the version check the way the SQL
// implementation does with WHERE version = $n.
type UserRepository struct {
	mu    sync.RWMutex
	users map[ulid.ULID]*auth.User
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[ulid.ULID]*auth.User),
	}
}

// Create stores a new user. Returns auth.ErrEmailTaken when the normalized
// email is already registered.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if auth.NormalizeEmail(existing.Email) == email {
			return auth.ErrEmailTaken
		}
	}
	if _, ok := r.users[user.ID]; ok {
		return auth.ErrEmailTaken
	}

	r.users[user.ID] = user.Clone()
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return user.Clone(), nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = auth.NormalizeEmail(email)
	for _, user := range r.users {
		if auth.NormalizeEmail(user.Email) == email {
			return user.Clone(), nil
		}
	}
	return nil, auth.ErrNotFound
}

// GetByResetTokenHash retrieves the user holding the given reset token
// digest.
func (r *UserRepository) GetByResetTokenHash(_ context.Context, tokenHash string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.ResetTokenHash != nil && *user.ResetTokenHash == tokenHash {
			return user.Clone(), nil
		}
	}
	return nil, auth.ErrNotFound
}

// Update persists the user iff the stored version matches. The caller's
// record receives the bumped version on success.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if current.Version != user.Version {
		return auth.ErrVersionConflict
	}

	stored := user.Clone()
	stored.Version++
	r.users[user.ID] = stored
	user.Version = stored.Version
	return nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
