// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"time"
)

// PendingSignup is a signup candidate waiting for its code to be confirmed.
// It lives server side only; the password hash is never sent to clients.
type PendingSignup struct {
	Email        string
	DisplayName  string
	PasswordHash string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsExpired returns true once now has reached ExpiresAt.
func (p *PendingSignup) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PendingSignupRepository persists signup candidates keyed by email.
type PendingSignupRepository interface {
	// Put stores the candidate unless the email already has one that is
	// still live at pending.CreatedAt. stored reports whether it was written.
	Put(ctx context.Context, pending *PendingSignup) (stored bool, err error)

	// Get retrieves the candidate for email. Returns ErrNotFound if absent.
	Get(ctx context.Context, email string) (*PendingSignup, error)

	// Delete removes the candidate for email. Deleting a missing candidate
	// is not an error.
	Delete(ctx context.Context, email string) error

	// DeleteExpired removes every candidate whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
