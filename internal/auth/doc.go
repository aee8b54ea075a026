// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package auth implements email one-time-code signup and login for ThinkGreen.
//
// # Components
//
//   - Argon2idHasher - salted password hashing
//   - Ledger - one live six-digit code per email with expiry and an attempt ceiling
//   - SessionSigner - stateless HS256 session tokens
//   - Service - the signup, login and session check protocols
//   - Sweeper - background removal of expired codes and pending signups
//
// Storage and delivery are behind UserRepository, OTPStore,
// PendingSignupRepository and Notifier. The postgres subpackage provides the
// storage implementations.
//
// # Flows
//
// Signup: RequestSignup stores a pending candidate and emails a code;
// ConfirmSignup verifies it and creates the User. Login: RequestLogin checks
// the password and emails a code; ConfirmLogin verifies it. Both confirmations
// return a session token, which CheckSession resolves to the stored User.
//
// # Errors
//
// Caller-facing failures carry one of the Code* constants as their oops code.
// UserMessage returns text that is safe to show.
package auth
