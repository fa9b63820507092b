// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shopdex/shopdex/internal/api"
	"github.com/shopdex/shopdex/internal/auth"
	authpg "github.com/shopdex/shopdex/internal/auth/postgres"
	"github.com/shopdex/shopdex/internal/config"
	"github.com/shopdex/shopdex/internal/mail"
	"github.com/shopdex/shopdex/internal/store"
)

// testEnv holds all the resources needed for the end-to-end HTTP tests: a
// real PostgreSQL container behind the full service stack, exercised through
// the assembled fiber application.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	app       *fiber.App
	mailer    *captureSender
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("shopdex_test"),
		postgres.WithUsername("shopdex"),
		postgres.WithPassword("shopdex"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	app, mailer, err := buildApp(pool)
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		container: container,
		pool:      pool,
		app:       app,
		mailer:    mailer,
	}, nil
}

// buildApp assembles the same stack the serve command wires up, with the
// log mailer swapped for a capturing one so specs can read reset tokens.
func buildApp(pool *pgxpool.Pool) (*fiber.App, *captureSender, error) {
	users := authpg.NewUserRepository(pool)
	hasher := auth.NewArgon2idHasher()

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessKey:  []byte("integration-access-key-012345678"),
		RefreshKey: []byte("integration-refresh-key-01234567"),
		AccessTTL:  auth.DefaultAccessTokenTTL,
		RefreshTTL: auth.DefaultRefreshTokenTTL,
	}, users)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := auth.NewSessionRegistry(users, issuer, true)
	if err != nil {
		return nil, nil, err
	}

	mailer := &captureSender{}
	resets, err := auth.NewPasswordResetService(users, hasher, mailer, "https://shopdex.example", 15*time.Minute)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	svc, err := auth.NewServiceWithLogger(users, hasher, issuer, sessions, resets, auth.DefaultLockoutPolicy(), logger)
	if err != nil {
		return nil, nil, err
	}

	return api.NewApp(config.ServerConfig{}, svc, nil, logger), mailer, nil
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// captureSender records outbound mail so specs can read reset tokens.
type captureSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *captureSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

func (s *captureSender) lastResetToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	Expect(s.sent).NotTo(BeEmpty(), "no mail captured")

	body := s.sent[len(s.sent)-1].Body
	_, after, ok := strings.Cut(body, "token=")
	Expect(ok).To(BeTrue(), "mail body has no reset link: %q", body)

	token, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(token)
}

// HTTP helpers

func (e *testEnv) doJSON(method, path string, payload any, headers map[string]string) *http.Response {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeJSON(resp *http.Response, out any) {
	defer func() { _ = resp.Body.Close() }()
	Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
}

// expectEnvelope asserts the error envelope shape every failed request must
// carry.
func expectEnvelope(resp *http.Response, status int, code string) {
	Expect(resp.StatusCode).To(Equal(status))

	var envelope api.ErrorResponse
	decodeJSON(resp, &envelope)
	Expect(envelope.Code).To(Equal(code))
	Expect(envelope.StatusCode).To(Equal(status))
	Expect(envelope.Message).NotTo(BeEmpty())
}

func bearer(token string) map[string]string {
	return map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
}

type userBody struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type sessionBody struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         userBody `json:"user"`
}

type tokenBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func registerOverHTTP(email, password, displayName string) sessionBody {
	resp := env.doJSON(http.MethodPost, "/auth/register", map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	}, nil)
	Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

	var out sessionBody
	decodeJSON(resp, &out)
	return out
}

var _ = Describe("HTTP API", func() {
	BeforeEach(func() {
		_, err := env.pool.Exec(context.Background(), "DELETE FROM users")
		Expect(err).NotTo(HaveOccurred())
		env.mailer.reset()
	})

	Describe("Account lifecycle", func() {
		It("supports register, me, change-password, refresh and logout end to end", func() {
			sess := registerOverHTTP("dana@example.com", "correct horse", "Dana")
			Expect(sess.AccessToken).NotTo(BeEmpty())
			Expect(sess.RefreshToken).NotTo(BeEmpty())
			Expect(sess.User.Email).To(Equal("dana@example.com"))

			// Authenticated profile read.
			resp := env.doJSON(http.MethodGet, "/auth/me", nil, bearer(sess.AccessToken))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var me userBody
			decodeJSON(resp, &me)
			Expect(me.ID).To(Equal(sess.User.ID))
			Expect(me.DisplayName).To(Equal("Dana"))

			// Rotate the refresh token.
			resp = env.doJSON(http.MethodPost, "/auth/refresh", map[string]string{
				"refreshToken": sess.RefreshToken,
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var rotated tokenBody
			decodeJSON(resp, &rotated)
			Expect(rotated.RefreshToken).NotTo(Equal(sess.RefreshToken))
			Expect(rotated.AccessToken).NotTo(BeEmpty())

			// Change the password with the rotated access token.
			resp = env.doJSON(http.MethodPut, "/auth/change-password", map[string]string{
				"currentPassword": "correct horse",
				"newPassword":     "fresh new password",
			}, bearer(rotated.AccessToken))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()

			// The new credential signs in; the old one does not.
			resp = env.doJSON(http.MethodPost, "/auth/login", map[string]string{
				"email":    "dana@example.com",
				"password": "correct horse",
			}, nil)
			expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS")

			resp = env.doJSON(http.MethodPost, "/auth/login", map[string]string{
				"email":    "dana@example.com",
				"password": "fresh new password",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var relogin sessionBody
			decodeJSON(resp, &relogin)

			// Sign out everywhere.
			resp = env.doJSON(http.MethodPost, "/auth/logout", map[string]any{
				"all": true,
			}, bearer(relogin.AccessToken))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()

			resp = env.doJSON(http.MethodPost, "/auth/refresh", map[string]string{
				"refreshToken": relogin.RefreshToken,
			}, nil)
			expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_TOKEN_REVOKED")
		})

		It("never serializes credential or security state", func() {
			resp := env.doJSON(http.MethodPost, "/auth/register", map[string]string{
				"email":       "projection@example.com",
				"password":    "correct horse",
				"displayName": "Projection",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			var raw map[string]any
			decodeJSON(resp, &raw)
			user, ok := raw["user"].(map[string]any)
			Expect(ok).To(BeTrue(), "response should carry a user object")
			Expect(user).To(HaveKey("id"))
			Expect(user).To(HaveKey("email"))
			Expect(user).To(HaveKey("displayName"))
			Expect(user).To(HaveKey("createdAt"))
			Expect(user).NotTo(HaveKey("passwordHash"))
			Expect(user).NotTo(HaveKey("refreshTokens"))
			Expect(user).NotTo(HaveKey("loginAttempts"))
			Expect(user).NotTo(HaveKey("resetTokenHash"))
		})
	})

	Describe("Error envelopes", func() {
		It("rejects a duplicate registration with 409", func() {
			registerOverHTTP("taken@example.com", "correct horse", "First")

			resp := env.doJSON(http.MethodPost, "/auth/register", map[string]string{
				"email":       "Taken@Example.com",
				"password":    "other password",
				"displayName": "Second",
			}, nil)
			expectEnvelope(resp, fiber.StatusConflict, "AUTH_EMAIL_EXISTS")
		})

		It("rejects a short password with 400", func() {
			resp := env.doJSON(http.MethodPost, "/auth/register", map[string]string{
				"email":       "short@example.com",
				"password":    "short",
				"displayName": "Short",
			}, nil)
			expectEnvelope(resp, fiber.StatusBadRequest, "AUTH_VALIDATION")
		})

		It("rejects protected routes without a token with 401", func() {
			resp := env.doJSON(http.MethodGet, "/auth/me", nil, nil)
			expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_UNAUTHORIZED")
		})

		It("rejects a garbage bearer token with 401", func() {
			resp := env.doJSON(http.MethodGet, "/auth/me", nil, bearer("not-a-jwt"))
			expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_TOKEN_INVALID")
		})

		It("answers unknown routes with the envelope too", func() {
			resp := env.doJSON(http.MethodGet, "/no/such/route", nil, nil)
			expectEnvelope(resp, fiber.StatusNotFound, "NOT_FOUND")
		})

		It("locks an account over HTTP after repeated failures", func() {
			registerOverHTTP("locked@example.com", "correct horse", "Locked")

			for i := 1; i < auth.DefaultLockoutThreshold; i++ {
				resp := env.doJSON(http.MethodPost, "/auth/login", map[string]string{
					"email":    "locked@example.com",
					"password": "incorrect horse",
				}, nil)
				expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS")
			}

			resp := env.doJSON(http.MethodPost, "/auth/login", map[string]string{
				"email":    "locked@example.com",
				"password": "incorrect horse",
			}, nil)
			expectEnvelope(resp, fiber.StatusTooManyRequests, "AUTH_ACCOUNT_LOCKED")

			resp = env.doJSON(http.MethodPost, "/auth/login", map[string]string{
				"email":    "locked@example.com",
				"password": "correct horse",
			}, nil)
			expectEnvelope(resp, fiber.StatusTooManyRequests, "AUTH_ACCOUNT_LOCKED")
		})
	})

	Describe("Password recovery over HTTP", func() {
		It("resets a password through the mailed token", func() {
			sess := registerOverHTTP("forgot@example.com", "old password", "Forgot")

			resp := env.doJSON(http.MethodPost, "/auth/forgot-password", map[string]string{
				"email": "forgot@example.com",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()
			Expect(env.mailer.count()).To(Equal(1))

			token := env.mailer.lastResetToken()
			resp = env.doJSON(http.MethodPost, "/auth/reset-password", map[string]string{
				"token":       token,
				"newPassword": "brand new password",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()

			// The reset revoked the original session.
			resp = env.doJSON(http.MethodPost, "/auth/refresh", map[string]string{
				"refreshToken": sess.RefreshToken,
			}, nil)
			expectEnvelope(resp, fiber.StatusUnauthorized, "AUTH_TOKEN_REVOKED")

			resp = env.doJSON(http.MethodPost, "/auth/login", map[string]string{
				"email":    "forgot@example.com",
				"password": "brand new password",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()

			// Second redemption of the same token fails.
			resp = env.doJSON(http.MethodPost, "/auth/reset-password", map[string]string{
				"token":       token,
				"newPassword": "sneaky other password",
			}, nil)
			expectEnvelope(resp, fiber.StatusNotFound, "AUTH_RESET_TOKEN_NOT_FOUND")
		})

		It("gives the same answer for unknown addresses and sends nothing", func() {
			resp := env.doJSON(http.MethodPost, "/auth/forgot-password", map[string]string{
				"email": "ghost@example.com",
			}, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			_ = resp.Body.Close()
			Expect(env.mailer.count()).To(BeZero())
		})
	})
})
