// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// OTPRepository implements auth.OTPStore using PostgreSQL. The email
// primary key keeps one entry per address, and the conditional UPDATE and
// DELETE statements give the ledger its compare-and-swap semantics.
type OTPRepository struct {
	pool poolIface
}

// NewOTPRepository creates a new OTPRepository.
func NewOTPRepository(pool poolIface) *OTPRepository {
	return &OTPRepository{pool: pool}
}

// Get retrieves the entry for email.
func (r *OTPRepository) Get(ctx context.Context, email string) (*auth.OTPEntry, error) {
	var (
		idStr string
		entry auth.OTPEntry
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, code, attempts, expires_at, created_at
		FROM otp_entries
		WHERE email = $1
	`, email).Scan(&idStr, &entry.Email, &entry.Code, &entry.Attempts, &entry.ExpiresAt, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("OTP_GET_FAILED").
			With("operation", "get otp entry").
			With("email", email).
			Wrap(err)
	}

	entry.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("OTP_INVALID_ID").
			With("operation", "parse otp id").
			With("id", idStr).
			Wrap(err)
	}
	return &entry, nil
}

// Insert stores entry unless the email already has one.
func (r *OTPRepository) Insert(ctx context.Context, entry *auth.OTPEntry) error {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO otp_entries (email, id, code, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
	`,
		entry.Email,
		entry.ID.String(),
		entry.Code,
		entry.Attempts,
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	if err != nil {
		return oops.Code("OTP_INSERT_FAILED").
			With("operation", "insert otp entry").
			With("email", entry.Email).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return auth.ErrOTPExists
	}
	return nil
}

// IncrementAttempts bumps the counter only if id and attempts still match.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, email string, id ulid.ULID, expected int) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE otp_entries SET attempts = attempts + 1
		WHERE email = $1 AND id = $2 AND attempts = $3
	`, email, id.String(), expected)
	if err != nil {
		return false, oops.Code("OTP_INCREMENT_FAILED").
			With("operation", "increment attempts").
			With("email", email).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// Delete removes the entry if it still has the given id.
func (r *OTPRepository) Delete(ctx context.Context, email string, id ulid.ULID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM otp_entries WHERE email = $1 AND id = $2
	`, email, id.String())
	if err != nil {
		return false, oops.Code("OTP_DELETE_FAILED").
			With("operation", "delete otp entry").
			With("email", email).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteExpired removes entries whose expiry is at or before now.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM otp_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired otp entries").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.OTPStore = (*OTPRepository)(nil)
