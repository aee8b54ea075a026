// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// PendingSignupRepository implements auth.PendingSignupRepository using
// PostgreSQL.
type PendingSignupRepository struct {
	pool poolIface
}

// NewPendingSignupRepository creates a new PendingSignupRepository.
func NewPendingSignupRepository(pool poolIface) *PendingSignupRepository {
	return &PendingSignupRepository{pool: pool}
}

// Put inserts the candidate, replacing an existing one only if it expired
// at or before p.CreatedAt.
func (r *PendingSignupRepository) Put(ctx context.Context, p *auth.PendingSignup) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO pending_signups (email, display_name, password_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			password_hash = EXCLUDED.password_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE pending_signups.expires_at <= EXCLUDED.created_at
	`, p.Email, p.DisplayName, p.PasswordHash, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return false, oops.Code("PENDING_SIGNUP_PUT_FAILED").
			With("operation", "upsert pending signup").
			With("email", p.Email).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// Get retrieves the candidate for email.
func (r *PendingSignupRepository) Get(ctx context.Context, email string) (*auth.PendingSignup, error) {
	var p auth.PendingSignup
	err := r.pool.QueryRow(ctx, `
		SELECT email, display_name, password_hash, expires_at, created_at
		FROM pending_signups
		WHERE email = $1
	`, email).Scan(&p.Email, &p.DisplayName, &p.PasswordHash, &p.ExpiresAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PENDING_SIGNUP_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PENDING_SIGNUP_GET_FAILED").
			With("operation", "get pending signup").
			With("email", email).
			Wrap(err)
	}
	return &p, nil
}

// Delete removes the candidate for email, if any.
func (r *PendingSignupRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM pending_signups WHERE email = $1`, email); err != nil {
		return oops.Code("PENDING_SIGNUP_DELETE_FAILED").
			With("operation", "delete pending signup").
			With("email", email).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes candidates whose expiry is at or before now.
func (r *PendingSignupRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM pending_signups WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("PENDING_SIGNUP_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired pending signups").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.PendingSignupRepository = (*PendingSignupRepository)(nil)
