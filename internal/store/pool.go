// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package store owns the PostgreSQL connection pool and the embedded schema
// migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Pool defaults.
const (
	DefaultMaxConns       = 10
	DefaultConnectRetries = 5
	defaultConnectBackoff = 250 * time.Millisecond
	defaultPingTimeout    = 2 * time.Second
)

// Pinger is satisfied by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

type poolOptions struct {
	maxConns int32
	retries  uint64
	backoff  time.Duration
	logger   *slog.Logger
}

// PoolOption configures OpenPool.
type PoolOption func(*poolOptions)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) PoolOption {
	return func(o *poolOptions) {
		o.maxConns = n
	}
}

// WithConnectRetries sets how many times the initial ping is retried.
func WithConnectRetries(n uint64) PoolOption {
	return func(o *poolOptions) {
		o.retries = n
	}
}

// WithConnectBackoff sets the base delay between connection attempts.
func WithConnectBackoff(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.backoff = d
	}
}

// WithPoolLogger sets the logger used to report connection retries.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(o *poolOptions) {
		o.logger = logger
	}
}

// OpenPool parses dsn, opens a pool and waits until the database answers a
// ping. The ping is retried with exponential backoff so the server can start
// alongside a database that is still booting.
func OpenPool(ctx context.Context, dsn string, opts ...PoolOption) (*pgxpool.Pool, error) {
	o := poolOptions{
		maxConns: DefaultMaxConns,
		retries:  DefaultConnectRetries,
		backoff:  defaultConnectBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if dsn == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(o.retries, retry.NewExponential(o.backoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := Ping(ctx, pool); pingErr != nil {
			o.logger.Warn("database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}

// Ping checks the database with a short timeout. It backs the health
// endpoint and the startup wait.
func Ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return oops.Code("DB_UNAVAILABLE").Wrap(err)
	}
	return nil
}
