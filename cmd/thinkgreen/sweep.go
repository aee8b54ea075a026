// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/auth/postgres"
	"github.com/thinkgreen/thinkgreen/internal/logging"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return newSweepCmdWithDeps(nil)
}

func newSweepCmdWithDeps(deps *CommonDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired codes and pending signups once",
		Long: `Delete expired verification codes and abandoned signups, then exit.
The serve command runs the same sweep periodically; this is for cron
deployments that run it separately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweepWithDeps(cmd.Context(), cmd, deps)
		},
	}
}

func runSweepWithDeps(ctx context.Context, cmd *cobra.Command, deps *CommonDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &CommonDeps{}
	}
	deps.applyDefaults()

	cfg, err := loadDatabaseConfig(deps.ConfigLoader, cmd.Flags())
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.Setup(serviceName, version, logging.Options{Format: cfg.Log.Format, Level: level}, deps.LogWriter)

	db, err := deps.DatabaseFactory(ctx, cfg.Database, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	ledger, err := auth.NewLedger(postgres.NewOTPRepository(db))
	if err != nil {
		return err
	}
	sweeper, err := auth.NewSweeper(ledger, postgres.NewPendingSignupRepository(db),
		auth.WithSweeperLogger(logger),
	)
	if err != nil {
		return err
	}

	stats, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return oops.With("operation", "sweep").Wrap(err)
	}
	cmd.Printf("Removed %d expired codes and %d expired signups\n", stats.Codes, stats.Pending)
	return nil
}
