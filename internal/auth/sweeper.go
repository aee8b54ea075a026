// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/pkg/errutil"
)

// DefaultSweepInterval is how often expired codes and pending signups are
// purged.
const DefaultSweepInterval = 5 * time.Minute

// SweepStats counts what one sweep removed.
type SweepStats struct {
	Codes   int64
	Pending int64
}

// Sweeper periodically removes expired OTP entries and pending signups so
// abandoned attempts do not accumulate.
type Sweeper struct {
	ledger   *Ledger
	pending  PendingSignupRepository
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOption configures a Sweeper during construction.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = d
	}
}

// WithSweeperLogger sets the logger. Defaults to slog.Default().
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperRecorder sets the metrics recorder.
func WithSweeperRecorder(r Recorder) SweeperOption {
	return func(s *Sweeper) {
		s.recorder = r
	}
}

// WithSweeperClock sets the time source used for pending signup expiry.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(ledger *Ledger, pending PendingSignupRepository, opts ...SweeperOption) (*Sweeper, error) {
	if ledger == nil {
		return nil, oops.Errorf("otp ledger is required")
	}
	if pending == nil {
		return nil, oops.Errorf("pending signup repository is required")
	}
	s := &Sweeper{
		ledger:   ledger,
		pending:  pending,
		interval: DefaultSweepInterval,
		now:      time.Now,
		logger:   slog.Default(),
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, oops.Code("SWEEP_INTERVAL_INVALID").Errorf("sweep interval must be positive, got %s", s.interval)
	}
	return s, nil
}

// SweepOnce runs a single sweep. Both stores are attempted even if the
// first fails; the first error is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	var firstErr error

	codes, err := s.ledger.Sweep(ctx)
	if err != nil {
		firstErr = err
	} else {
		stats.Codes = codes
		s.recorder.Swept("otp", codes)
	}

	pending, err := s.pending.DeleteExpired(ctx, s.now())
	if err != nil {
		if firstErr == nil {
			firstErr = oops.Code("PENDING_SWEEP_FAILED").Wrap(err)
		}
	} else {
		stats.Pending = pending
		s.recorder.Swept("pending_signup", pending)
	}

	return stats, firstErr
}

// Start launches the sweep loop. It returns an error if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return oops.Errorf("sweeper already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
	s.logger.Info("otp sweeper started", "interval", s.interval)
	return nil
}

// Stop halts the sweep loop and waits for it to exit. Safe to call when not
// running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("otp sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.SweepOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errutil.LogError(s.logger, "otp sweep failed", err)
				continue
			}
			if stats.Codes > 0 || stats.Pending > 0 {
				s.logger.Debug("swept expired entries", "codes", stats.Codes, "pending", stats.Pending)
			}
		}
	}
}
