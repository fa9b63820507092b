// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

//go:build integration

package auth_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/shopdex/shopdex/internal/auth"
)

var _ = Describe("UserRepository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		cleanupUsers(ctx, env.pool)
	})

	Describe("Create", func() {
		It("persists all account fields", func() {
			user := createTestUser("create@example.com", "fixture password")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Email).To(Equal("create@example.com"))
			Expect(got.PasswordHash).To(Equal(user.PasswordHash))
			Expect(got.DisplayName).To(Equal(user.DisplayName))
			Expect(got.Version).To(Equal(int64(1)))
			Expect(got.LoginAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
			Expect(got.ResetTokenHash).To(BeNil())
			Expect(got.RefreshTokens).To(BeEmpty())
		})

		It("sets created_at and updated_at timestamps", func() {
			before := time.Now().Add(-time.Second)
			user := createTestUser("timestamps@example.com", "fixture password")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CreatedAt).To(BeTemporally(">=", before))
			Expect(got.UpdatedAt).To(BeTemporally(">=", before))
		})

		It("rejects a duplicate email", func() {
			createTestUser("dupe@example.com", "fixture password")

			hash, err := env.Hasher.Hash("another password")
			Expect(err).NotTo(HaveOccurred())
			second, err := auth.NewUser("dupe@example.com", hash, "Second")
			Expect(err).NotTo(HaveOccurred())

			err = env.Users.Create(ctx, second)
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})

		It("rejects a duplicate email differing only in case", func() {
			createTestUser("case@example.com", "fixture password")

			hash, err := env.Hasher.Hash("another password")
			Expect(err).NotTo(HaveOccurred())
			second, err := auth.NewUser("other@example.com", hash, "Second")
			Expect(err).NotTo(HaveOccurred())
			// NewUser normalizes, so collide at the storage layer instead.
			second.Email = "CASE@example.com"

			err = env.Users.Create(ctx, second)
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})
	})

	Describe("GetByEmail", func() {
		It("matches regardless of case", func() {
			user := createTestUser("mixed@example.com", "fixture password")

			got, err := env.Users.GetByEmail(ctx, "MIXED@Example.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
		})

		It("returns ErrNotFound for an unknown address", func() {
			_, err := env.Users.GetByEmail(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("GetByID", func() {
		It("returns ErrNotFound for a missing ID", func() {
			_, err := env.Users.GetByID(ctx, ulid.Make())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("GetByResetTokenHash", func() {
		It("finds the user holding the digest", func() {
			user := createTestUser("reset@example.com", "fixture password")

			_, digest, err := auth.GenerateResetToken()
			Expect(err).NotTo(HaveOccurred())
			user.SetResetRequest(digest, time.Now().Add(15*time.Minute), time.Now())
			Expect(env.Users.Update(ctx, user)).To(Succeed())

			got, err := env.Users.GetByResetTokenHash(ctx, digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
			Expect(got.ResetTokenHash).NotTo(BeNil())
			Expect(*got.ResetTokenHash).To(Equal(digest))
		})

		It("returns ErrNotFound for an unknown digest", func() {
			_, err := env.Users.GetByResetTokenHash(ctx, "no-such-digest")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("persists security state and bumps the version", func() {
			user := createTestUser("update@example.com", "fixture password")

			now := time.Now()
			lockedUntil := now.Add(30 * time.Minute)
			user.LoginAttempts = 3
			user.LockedUntil = &lockedUntil
			user.UpdatedAt = now

			Expect(env.Users.Update(ctx, user)).To(Succeed())
			Expect(user.Version).To(Equal(int64(2)), "caller should observe the bumped version")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(Equal(3))
			Expect(got.LockedUntil).NotTo(BeNil())
			Expect(got.LockedUntil.Unix()).To(Equal(lockedUntil.Unix()))
			Expect(got.Version).To(Equal(int64(2)))
		})

		It("round-trips the refresh token set through JSONB", func() {
			user := createTestUser("sessions@example.com", "fixture password")

			expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
			user.RefreshTokens = []auth.RefreshToken{
				{Token: "first-token", ExpiresAt: expiry},
				{Token: "second-token", ExpiresAt: expiry.Add(time.Hour)},
			}
			Expect(env.Users.Update(ctx, user)).To(Succeed())

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RefreshTokens).To(HaveLen(2))
			Expect(got.RefreshTokens[0].Token).To(Equal("first-token"))
			Expect(got.RefreshTokens[0].ExpiresAt).To(BeTemporally("==", expiry))
			Expect(got.RefreshTokens[1].Token).To(Equal("second-token"))
		})

		It("returns ErrVersionConflict when a concurrent writer won", func() {
			user := createTestUser("conflict@example.com", "fixture password")

			stale, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())

			user.LoginAttempts = 1
			Expect(env.Users.Update(ctx, user)).To(Succeed())

			stale.LoginAttempts = 2
			err = env.Users.Update(ctx, stale)
			Expect(err).To(MatchError(auth.ErrVersionConflict))
		})

		It("returns ErrNotFound when the row is gone", func() {
			user := createTestUser("gone@example.com", "fixture password")

			_, err := env.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", user.ID.String())
			Expect(err).NotTo(HaveOccurred())

			user.LoginAttempts = 1
			err = env.Users.Update(ctx, user)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})
})
