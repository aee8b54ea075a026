// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// VerifyResult is the outcome of Ledger.Verify.
type VerifyResult int

// Verify outcomes. Only VerifyOK proves possession of the code.
const (
	VerifyOK VerifyResult = iota + 1
	VerifyNotFound
	VerifyExpired
	VerifyLockedOut
	VerifyMismatch
)

// Ok returns true if the code was accepted.
func (r VerifyResult) Ok() bool {
	return r == VerifyOK
}

// String returns the metric/log label for the result.
func (r VerifyResult) String() string {
	switch r {
	case VerifyOK:
		return "ok"
	case VerifyNotFound:
		return "not_found"
	case VerifyExpired:
		return "expired"
	case VerifyLockedOut:
		return "locked_out"
	case VerifyMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Contention retry policy for conditional store updates.
const (
	ledgerMaxRetries = 4
	ledgerRetryDelay = 5 * time.Millisecond
)

// errAttemptRace signals that another caller changed the entry between our
// read and our conditional update.
var errAttemptRace = errors.New("otp entry changed concurrently")

// Ledger issues and verifies one-time codes. It holds no state of its own;
// serialization per email comes from conditional updates in the OTPStore.
type Ledger struct {
	store   OTPStore
	now     func() time.Time
	backoff func() retry.Backoff
}

// LedgerOption configures a Ledger during construction.
type LedgerOption func(*Ledger)

// WithLedgerClock sets the time source. Defaults to time.Now.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a Ledger over store.
func NewLedger(store OTPStore, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, oops.Errorf("otp store is required")
	}
	l := &Ledger{
		store: store,
		now:   time.Now,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(ledgerMaxRetries, retry.NewConstant(ledgerRetryDelay))
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Issue returns the live code for email, creating one if none exists.
// reused is true when an existing unexpired entry was returned unchanged.
func (l *Ledger) Issue(ctx context.Context, email string) (entry *OTPEntry, reused bool, err error) {
	email = NormalizeEmail(email)

	err = retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		existing, getErr := l.store.Get(ctx, email)
		switch {
		case getErr == nil:
			if !existing.IsExpired(l.now()) {
				entry, reused = existing, true
				return nil
			}
			if _, delErr := l.store.Delete(ctx, email, existing.ID); delErr != nil {
				return oops.Code("OTP_ISSUE_FAILED").
					With("operation", "delete expired entry").
					Wrap(delErr)
			}
		case errors.Is(getErr, ErrNotFound):
		default:
			return oops.Code("OTP_ISSUE_FAILED").
				With("operation", "get entry").
				Wrap(getErr)
		}

		fresh, genErr := NewOTPEntry(email, l.now())
		if genErr != nil {
			return genErr
		}
		if insErr := l.store.Insert(ctx, fresh); insErr != nil {
			if errors.Is(insErr, ErrOTPExists) {
				// Lost the race to another issuer; the next pass returns its entry.
				return retry.RetryableError(insErr)
			}
			return oops.Code("OTP_ISSUE_FAILED").
				With("operation", "insert entry").
				Wrap(insErr)
		}
		entry, reused = fresh, false
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOTPExists) {
			return nil, false, oops.Code("OTP_ISSUE_CONTENDED").
				With("retries", ledgerMaxRetries).
				Wrap(err)
		}
		return nil, false, err //nolint:wrapcheck // already coded above
	}
	return entry, reused, nil
}

// Verify checks code against the live entry for email.
//
// The entry is deleted when it is found expired, when the attempt ceiling
// was already reached, or when the code matches. A mismatch consumes one
// attempt and leaves the entry in place.
func (l *Ledger) Verify(ctx context.Context, email, code string) (VerifyResult, error) {
	email = NormalizeEmail(email)
	var result VerifyResult

	err := retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		entry, getErr := l.store.Get(ctx, email)
		if errors.Is(getErr, ErrNotFound) {
			result = VerifyNotFound
			return nil
		}
		if getErr != nil {
			return oops.Code("OTP_VERIFY_FAILED").With("operation", "get entry").Wrap(getErr)
		}

		if entry.IsExpired(l.now()) {
			if _, delErr := l.store.Delete(ctx, email, entry.ID); delErr != nil {
				return oops.Code("OTP_VERIFY_FAILED").With("operation", "delete expired entry").Wrap(delErr)
			}
			result = VerifyExpired
			return nil
		}

		if entry.AttemptsExhausted() {
			if _, delErr := l.store.Delete(ctx, email, entry.ID); delErr != nil {
				return oops.Code("OTP_VERIFY_FAILED").With("operation", "delete exhausted entry").Wrap(delErr)
			}
			result = VerifyLockedOut
			return nil
		}

		won, incErr := l.store.IncrementAttempts(ctx, email, entry.ID, entry.Attempts)
		if incErr != nil {
			return oops.Code("OTP_VERIFY_FAILED").With("operation", "increment attempts").Wrap(incErr)
		}
		if !won {
			return retry.RetryableError(errAttemptRace)
		}

		if subtle.ConstantTimeCompare([]byte(code), []byte(entry.Code)) != 1 {
			result = VerifyMismatch
			return nil
		}

		deleted, delErr := l.store.Delete(ctx, email, entry.ID)
		if delErr != nil {
			return oops.Code("OTP_VERIFY_FAILED").With("operation", "consume entry").Wrap(delErr)
		}
		if !deleted {
			// A concurrent verifier consumed it first.
			result = VerifyNotFound
			return nil
		}
		result = VerifyOK
		return nil
	})
	if err != nil {
		if errors.Is(err, errAttemptRace) {
			return 0, oops.Code("OTP_VERIFY_CONTENDED").
				With("retries", ledgerMaxRetries).
				Wrap(err)
		}
		return 0, err //nolint:wrapcheck // already coded above
	}
	return result, nil
}

// Revoke deletes entry if it is still the live one for its email.
func (l *Ledger) Revoke(ctx context.Context, entry *OTPEntry) error {
	if _, err := l.store.Delete(ctx, entry.Email, entry.ID); err != nil {
		return oops.Code("OTP_REVOKE_FAILED").With("email", entry.Email).Wrap(err)
	}
	return nil
}

// Sweep deletes every expired entry and returns how many were removed.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, oops.Code("OTP_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
