// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

//go:build integration

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/shopdex/shopdex/internal/auth"
)

var _ = Describe("Authentication flows", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		cleanupUsers(ctx, env.pool)
		env.Mailer.reset()
	})

	Describe("Registration and login", func() {
		It("registers an account and signs in with the same credentials", func() {
			user, pair := registerTestUser("dana@example.com", "correct horse")
			Expect(pair.AccessToken).NotTo(BeEmpty())
			Expect(pair.RefreshToken).NotTo(BeEmpty())

			signedIn, loginPair, err := env.Svc.Login(ctx, "dana@example.com", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(signedIn.ID).To(Equal(user.ID))
			Expect(loginPair.RefreshToken).NotTo(Equal(pair.RefreshToken))

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LastLoginAt).NotTo(BeNil())
			Expect(got.RefreshTokens).To(HaveLen(2), "register and login should each hold a session")
		})

		It("refuses a second registration for the same email", func() {
			registerTestUser("taken@example.com", "correct horse")

			_, _, err := env.Svc.Register(ctx, "Taken@Example.com", "other password", "Impostor")
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})

		It("refuses the wrong password and counts the attempt", func() {
			user, _ := registerTestUser("wrong@example.com", "correct horse")

			_, _, err := env.Svc.Login(ctx, "wrong@example.com", "incorrect horse")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(Equal(1))
		})

		It("clears the failure counter on a successful login", func() {
			user, _ := registerTestUser("recover@example.com", "correct horse")

			_, _, err := env.Svc.Login(ctx, "recover@example.com", "incorrect horse")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			_, _, err = env.Svc.Login(ctx, "recover@example.com", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
		})

		It("answers unknown emails like wrong passwords", func() {
			_, _, err := env.Svc.Login(ctx, "nobody@example.com", "whatever password")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})
	})

	Describe("Login lockout", func() {
		It("locks the account at the failure threshold and refuses even the right password", func() {
			user, _ := registerTestUser("locked@example.com", "correct horse")

			for i := 1; i < auth.DefaultLockoutThreshold; i++ {
				_, _, err := env.Svc.Login(ctx, "locked@example.com", "incorrect horse")
				Expect(err).To(MatchError(auth.ErrInvalidCredentials),
					fmt.Sprintf("attempt %d should fail without locking", i))
			}

			_, _, err := env.Svc.Login(ctx, "locked@example.com", "incorrect horse")
			Expect(err).To(MatchError(auth.ErrAccountLocked), "threshold attempt should lock")

			_, _, err = env.Svc.Login(ctx, "locked@example.com", "correct horse")
			Expect(err).To(MatchError(auth.ErrAccountLocked), "lockout should not care about the password")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(Equal(auth.DefaultLockoutThreshold))
			Expect(got.LockedUntil).NotTo(BeNil())
			Expect(*got.LockedUntil).To(BeTemporally(">", time.Now()))
		})

		It("does not count attempts made while locked", func() {
			user, _ := registerTestUser("counted@example.com", "correct horse")

			for range auth.DefaultLockoutThreshold {
				_, _, _ = env.Svc.Login(ctx, "counted@example.com", "incorrect horse")
			}
			_, _, err := env.Svc.Login(ctx, "counted@example.com", "incorrect horse")
			Expect(err).To(MatchError(auth.ErrAccountLocked))

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(Equal(auth.DefaultLockoutThreshold))
		})
	})

	Describe("Refresh token rotation", func() {
		It("rotates the refresh token on every use", func() {
			user, pair := registerTestUser("rotate@example.com", "correct horse")

			first, err := env.Svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.RefreshToken).NotTo(Equal(pair.RefreshToken))
			Expect(first.AccessToken).NotTo(BeEmpty())

			second, err := env.Svc.Refresh(ctx, first.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

			// The set never grows: each rotation replaces its predecessor.
			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RefreshTokens).To(HaveLen(1))
			Expect(got.RefreshTokens[0].Token).To(Equal(second.RefreshToken))
		})

		It("revokes the whole session set when a rotated-out token is replayed", func() {
			user, pair := registerTestUser("replay@example.com", "correct horse")

			rotated, err := env.Svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.Svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked), "replaying the old token should be refused")

			_, err = env.Svc.Refresh(ctx, rotated.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked), "the replay should have burned the live session too")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RefreshTokens).To(BeEmpty())
		})

		It("refuses a syntactically invalid refresh token", func() {
			registerTestUser("garbage@example.com", "correct horse")

			_, err := env.Svc.Refresh(ctx, "not-a-jwt")
			Expect(err).To(MatchError(auth.ErrTokenInvalid))
		})

		It("lets exactly one of two concurrent rotations win", func() {
			_, pair := registerTestUser("race@example.com", "correct horse")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range 2 {
				wg.Add(1)
				go func(idx int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := env.Svc.Refresh(ctx, pair.RefreshToken)
					errs[idx] = err
				}(i)
			}
			wg.Wait()

			var wins, revoked int
			for _, err := range errs {
				switch {
				case err == nil:
					wins++
				case errors.Is(err, auth.ErrTokenRevoked):
					revoked++
				}
			}
			Expect(wins).To(Equal(1), "exactly one rotation should succeed")
			Expect(revoked).To(Equal(1), "the loser should observe a revoked token")
		})
	})

	Describe("Logout", func() {
		It("revokes only the presented session", func() {
			user, registerPair := registerTestUser("single@example.com", "correct horse")
			_, loginPair, err := env.Svc.Login(ctx, "single@example.com", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			Expect(env.Svc.Logout(ctx, user.ID, registerPair.RefreshToken, false)).To(Succeed())

			_, err = env.Svc.Refresh(ctx, loginPair.RefreshToken)
			Expect(err).NotTo(HaveOccurred(), "the other session should survive")

			_, err = env.Svc.Refresh(ctx, registerPair.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked))
		})

		It("revokes every session with all set", func() {
			user, registerPair := registerTestUser("all@example.com", "correct horse")
			_, loginPair, err := env.Svc.Login(ctx, "all@example.com", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			Expect(env.Svc.Logout(ctx, user.ID, "", true)).To(Succeed())

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RefreshTokens).To(BeEmpty())

			_, err = env.Svc.Refresh(ctx, registerPair.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked))
			_, err = env.Svc.Refresh(ctx, loginPair.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked))
		})
	})

	Describe("Password change", func() {
		It("swaps the credential and invalidates earlier access tokens", func() {
			user, pair := registerTestUser("change@example.com", "correct horse")

			// JWT timestamps carry second precision; step past the boundary
			// so the change lands in a later second than the token's issue.
			time.Sleep(1100 * time.Millisecond)

			err := env.Svc.ChangePassword(ctx, user.ID, "correct horse", "fresh new password")
			Expect(err).NotTo(HaveOccurred())

			_, err = env.Svc.Authenticate(ctx, pair.AccessToken)
			Expect(err).To(MatchError(auth.ErrTokenInvalid), "pre-change access token should be stale")

			_, _, err = env.Svc.Login(ctx, "change@example.com", "correct horse")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			_, _, err = env.Svc.Login(ctx, "change@example.com", "fresh new password")
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps refresh sessions alive across the change", func() {
			user, pair := registerTestUser("keep@example.com", "correct horse")

			err := env.Svc.ChangePassword(ctx, user.ID, "correct horse", "fresh new password")
			Expect(err).NotTo(HaveOccurred())

			rotated, err := env.Svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(rotated.RefreshToken).NotTo(BeEmpty())
		})

		It("refuses the change when the current password is wrong", func() {
			user, _ := registerTestUser("verify@example.com", "correct horse")

			err := env.Svc.ChangePassword(ctx, user.ID, "incorrect horse", "fresh new password")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})
	})

	Describe("Password reset", func() {
		It("completes the email round trip", func() {
			_, pair := registerTestUser("forgot@example.com", "old password")

			Expect(env.Svc.ForgotPassword(ctx, "forgot@example.com")).To(Succeed())
			Expect(env.Mailer.count()).To(Equal(1))

			token := env.Mailer.lastResetToken()
			Expect(env.Svc.ResetPassword(ctx, token, "brand new password")).To(Succeed())

			_, _, err := env.Svc.Login(ctx, "forgot@example.com", "old password")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			_, _, err = env.Svc.Login(ctx, "forgot@example.com", "brand new password")
			Expect(err).NotTo(HaveOccurred())

			_, err = env.Svc.Refresh(ctx, pair.RefreshToken)
			Expect(err).To(MatchError(auth.ErrTokenRevoked), "reset should revoke existing sessions")
		})

		It("consumes the token on first use", func() {
			registerTestUser("single-use@example.com", "old password")

			Expect(env.Svc.ForgotPassword(ctx, "single-use@example.com")).To(Succeed())
			token := env.Mailer.lastResetToken()

			Expect(env.Svc.ResetPassword(ctx, token, "brand new password")).To(Succeed())

			err := env.Svc.ResetPassword(ctx, token, "sneaky other password")
			Expect(err).To(MatchError(auth.ErrResetTokenNotFound))

			_, _, err = env.Svc.Login(ctx, "single-use@example.com", "brand new password")
			Expect(err).NotTo(HaveOccurred(), "the first redemption should stand")
		})

		It("replaces an outstanding token with each new request", func() {
			registerTestUser("replace@example.com", "old password")

			Expect(env.Svc.ForgotPassword(ctx, "replace@example.com")).To(Succeed())
			firstToken := env.Mailer.lastResetToken()

			Expect(env.Svc.ForgotPassword(ctx, "replace@example.com")).To(Succeed())
			secondToken := env.Mailer.lastResetToken()
			Expect(secondToken).NotTo(Equal(firstToken))

			err := env.Svc.ResetPassword(ctx, firstToken, "brand new password")
			Expect(err).To(MatchError(auth.ErrResetTokenNotFound), "the replaced token should be dead")

			Expect(env.Svc.ResetPassword(ctx, secondToken, "brand new password")).To(Succeed())
		})

		It("sends no mail for an unknown address", func() {
			Expect(env.Svc.ForgotPassword(ctx, "ghost@example.com")).To(Succeed())
			Expect(env.Mailer.count()).To(BeZero())
		})

		It("lifts an active lockout", func() {
			user, _ := registerTestUser("lifted@example.com", "old password")

			for range auth.DefaultLockoutThreshold {
				_, _, _ = env.Svc.Login(ctx, "lifted@example.com", "incorrect horse")
			}
			_, _, err := env.Svc.Login(ctx, "lifted@example.com", "old password")
			Expect(err).To(MatchError(auth.ErrAccountLocked))

			Expect(env.Svc.ForgotPassword(ctx, "lifted@example.com")).To(Succeed())
			token := env.Mailer.lastResetToken()
			Expect(env.Svc.ResetPassword(ctx, token, "brand new password")).To(Succeed())

			_, _, err = env.Svc.Login(ctx, "lifted@example.com", "brand new password")
			Expect(err).NotTo(HaveOccurred(), "reset should end the lockout")

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
		})
	})

	Describe("Concurrent login failures", func() {
		It("counts every failure exactly once under contention", func() {
			const attempts = 4

			user, _ := registerTestUser("contended@example.com", "correct horse")

			var wg sync.WaitGroup
			errs := make([]error, attempts)
			for i := range attempts {
				wg.Add(1)
				go func(idx int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, _, err := env.Svc.Login(ctx, "contended@example.com", "incorrect horse")
					errs[idx] = err
				}(i)
			}
			wg.Wait()

			for i, err := range errs {
				Expect(err).To(MatchError(auth.ErrInvalidCredentials),
					fmt.Sprintf("goroutine %d should see invalid credentials, not a lockout", i))
			}

			got, err := env.Users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LoginAttempts).To(Equal(attempts), "conflicting writers should all be counted")
		})
	})
})
