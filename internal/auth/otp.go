// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OTP policy.
const (
	// OTPTTL is how long an issued code stays valid.
	OTPTTL = 10 * time.Minute

	// MaxOTPAttempts is the number of guesses allowed against one code.
	// The guess after the last allowed one deletes the entry regardless of
	// correctness.
	MaxOTPAttempts = 3

	// OTPDigits is the code length.
	OTPDigits = 6
)

// otpSpace is 10^OTPDigits.
var otpSpace = big.NewInt(1_000_000)

// OTPEntry is the single pending code for an email.
type OTPEntry struct {
	ID        ulid.ULID
	Email     string
	Code      string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewOTPEntry creates an entry with a fresh random code expiring OTPTTL
// after now.
func NewOTPEntry(email string, now time.Time) (*OTPEntry, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	return &OTPEntry{
		ID:        ulid.Make(),
		Email:     NormalizeEmail(email),
		Code:      code,
		Attempts:  0,
		ExpiresAt: now.Add(OTPTTL),
		CreatedAt: now,
	}, nil
}

// IsExpired returns true once now has reached ExpiresAt.
func (e *OTPEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// AttemptsExhausted returns true when no further guesses are allowed.
func (e *OTPEntry) AttemptsExhausted() bool {
	return e.Attempts >= MaxOTPAttempts
}

// GenerateCode returns a uniformly random OTPDigits-digit code. Leading
// zeros are kept.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// OTPStore persists OTP entries keyed by email. Mutations are conditional on
// the entry ID (and attempt count) so that concurrent callers on different
// processes cannot both win.
type OTPStore interface {
	// Get returns the entry for email. Returns ErrNotFound if absent.
	Get(ctx context.Context, email string) (*OTPEntry, error)

	// Insert stores a new entry. Returns ErrOTPExists if one is already
	// stored for the email.
	Insert(ctx context.Context, entry *OTPEntry) error

	// IncrementAttempts adds one to the attempt counter if the stored entry
	// still has the given ID and attempt count. Returns false if it did not.
	IncrementAttempts(ctx context.Context, email string, id ulid.ULID, expected int) (bool, error)

	// Delete removes the entry with the given ID. Returns false if no such
	// entry existed.
	Delete(ctx context.Context, email string, id ulid.ULID) (bool, error)

	// DeleteExpired removes every entry whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
