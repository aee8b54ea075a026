// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/auth/mocks"
	"github.com/thinkgreen/thinkgreen/pkg/errutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSweeper(t *testing.T) {
	ledger, err := auth.NewLedger(newMemOTPStore())
	require.NoError(t, err)

	t.Run("requires ledger", func(t *testing.T) {
		_, err := auth.NewSweeper(nil, newMemPendingRepo())
		require.Error(t, err)
	})

	t.Run("requires pending repository", func(t *testing.T) {
		_, err := auth.NewSweeper(ledger, nil)
		require.Error(t, err)
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		_, err := auth.NewSweeper(ledger, newMemPendingRepo(), auth.WithSweepInterval(0))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SWEEP_INTERVAL_INVALID")
	})
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	otps := newMemOTPStore()
	pending := newMemPendingRepo()
	recorder := newCountingRecorder()

	ledger, err := auth.NewLedger(otps, auth.WithLedgerClock(clock.Now))
	require.NoError(t, err)
	sweeper, err := auth.NewSweeper(ledger, pending,
		auth.WithSweeperClock(clock.Now),
		auth.WithSweeperRecorder(recorder),
		auth.WithSweeperLogger(quietLogger()),
	)
	require.NoError(t, err)

	for _, email := range []string{"a@x.com", "b@x.com"} {
		entry, _, err := ledger.Issue(ctx, email)
		require.NoError(t, err)
		stored, err := pending.Put(ctx, &auth.PendingSignup{Email: email, ExpiresAt: entry.ExpiresAt, CreatedAt: clock.Now()})
		require.NoError(t, err)
		require.True(t, stored)
	}
	clock.Advance(auth.OTPTTL)
	_, _, err = ledger.Issue(ctx, "c@x.com")
	require.NoError(t, err)

	stats, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.SweepStats{Codes: 2, Pending: 2}, stats)
	assert.True(t, otps.has("c@x.com"), "live code kept")
	assert.Equal(t, 1, otps.size())
	assert.Equal(t, int64(2), recorder.swept["otp"])
	assert.Equal(t, int64(2), recorder.swept["pending_signup"])

	stats, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.SweepStats{}, stats)
}

func TestSweeper_SweepOnce_ReportsFirstError(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockOTPStore(t)
	pending := mocks.NewMockPendingSignupRepository(t)

	ledger, err := auth.NewLedger(store)
	require.NoError(t, err)
	sweeper, err := auth.NewSweeper(ledger, pending, auth.WithSweeperLogger(quietLogger()))
	require.NoError(t, err)

	store.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), errors.New("db down"))
	pending.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(3), nil)

	stats, err := sweeper.SweepOnce(ctx)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OTP_SWEEP_FAILED")
	assert.Equal(t, int64(3), stats.Pending, "pending sweep still runs")
}

func TestSweeper_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := mocks.NewMockOTPStore(t)
	pending := mocks.NewMockPendingSignupRepository(t)
	swept := make(chan struct{}, 1)

	store.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(1), nil)
	pending.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(int64(0), nil)

	ledger, err := auth.NewLedger(store)
	require.NoError(t, err)
	sweeper, err := auth.NewSweeper(ledger, pending,
		auth.WithSweepInterval(10*time.Millisecond),
		auth.WithSweeperLogger(quietLogger()),
	)
	require.NoError(t, err)

	require.NoError(t, sweeper.Start(context.Background()))
	require.Error(t, sweeper.Start(context.Background()), "second start rejected")

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}

	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger, err := auth.NewLedger(newMemOTPStore())
	require.NoError(t, err)
	sweeper, err := auth.NewSweeper(ledger, newMemPendingRepo(),
		auth.WithSweepInterval(time.Hour),
		auth.WithSweeperLogger(quietLogger()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sweeper.Start(ctx))
	cancel()
	sweeper.Stop()
}
