// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/config"
	"github.com/thinkgreen/thinkgreen/internal/observability"
	"github.com/thinkgreen/thinkgreen/internal/store"
)

// CommonDeps contains dependencies shared by every command that talks to
// the database. Nil fields use their default implementations.
type CommonDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(flags *pflag.FlagSet, path string) (*config.Config, error)

	// DatabaseFactory opens the connection pool.
	// Default: store.OpenPool
	DatabaseFactory func(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Database, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// ServeDeps contains injectable dependencies for the serve command.
type ServeDeps struct {
	CommonDeps

	// MigratorFactory creates the migrator used when auto-migrate is on.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// NotifierFactory creates the mail notifier.
	// Default: newNotifier
	NotifierFactory func(cfg *config.Config, logger *slog.Logger) (auth.Notifier, error)

	// ObservabilityServerFactory creates the metrics and probe server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(flags *pflag.FlagSet, path string) (*config.Config, error)

	// MigratorFactory creates the migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)
}

// Database is the subset of *pgxpool.Pool the commands use.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator is the subset of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// SchemaMigrator is the subset of store.Migrator used by the migrate command.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *CommonDeps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = openDatabase
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Database, error) {
	pool, err := store.OpenPool(ctx, cfg.URL,
		store.WithMaxConns(cfg.MaxConns),
		store.WithPoolLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// loadDatabaseConfig loads the configuration for commands that only need
// the database. The full Validate is left to serve.
func loadDatabaseConfig(loader func(*pflag.FlagSet, string) (*config.Config, error), flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := loader(flags, configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database url is required (DATABASE_URL)")
	}
	return cfg, nil
}
