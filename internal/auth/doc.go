// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package auth provides authentication and session security for Shopdex.
//
// # Domain Types
//
// User is the account record and should be created through NewUser, which
// validates and normalizes its fields. Direct struct initialization
// bypasses validation and may create invalid state. The security state on
// a User (failure counter, lockout, reset digest, refresh-token set) is
// mutated only through its transition methods and persisted through
// UserRepository.Update, which compares the record version so concurrent
// writers cannot silently overwrite each other.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - register, login, token refresh, logout, password change
//   - SessionRegistry - refresh-token issuance, rotation, and revocation
//   - PasswordResetService - forgot/reset password flow
//   - TokenIssuer - JWT minting and verification for both token families
//
// Services are created with New* constructors that validate dependencies.
package auth
