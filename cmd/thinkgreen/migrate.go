// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/thinkgreen/thinkgreen/internal/config"
	"github.com/thinkgreen/thinkgreen/internal/store"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *MigrateDeps) *cobra.Command {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = config.Load
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (SchemaMigrator, error) {
			return store.NewMigrator(url)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, roll back or inspect the users, otp_entries and
pending_signups schema. Running migrate without a subcommand applies
all pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateUp)
		},
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long: `Apply pending migrations. With --steps N only the next N are
applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := stepsFlag(cmd)
			if err != nil {
				return err
			}
			if steps == 0 {
				return withMigrator(cmd, deps, runMigrateUp)
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m SchemaMigrator) error {
				return runMigrateSteps(cmd, m, steps)
			})
		},
	}
	upCmd.Flags().Int("steps", 0, "apply only the next N migrations (0 = all)")
	cmd.AddCommand(upCmd)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all of them drops every account)",
		Long: `Roll back migrations. Without --steps every migration is rolled
back and all account data is dropped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := stepsFlag(cmd)
			if err != nil {
				return err
			}
			if steps > 0 {
				return withMigrator(cmd, deps, func(cmd *cobra.Command, m SchemaMigrator) error {
					return runMigrateSteps(cmd, m, -steps)
				})
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m SchemaMigrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rollback completed")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 0, "roll back only the last N migrations (0 = all)")
	cmd.AddCommand(downCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateStatus)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Mark VERSION as applied without running it. Use this to clear the
dirty flag after fixing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m SchemaMigrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(*cobra.Command, SchemaMigrator) error) error {
	cfg, err := loadDatabaseConfig(deps.ConfigLoader, cmd.Flags())
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migrator: %v\n", closeErr)
		}
	}()

	return fn(cmd, m)
}

func runMigrateUp(cmd *cobra.Command, m SchemaMigrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

// stepsFlag reads --steps and rejects negative counts.
func stepsFlag(cmd *cobra.Command) (int, error) {
	steps, err := cmd.Flags().GetInt("steps")
	if err != nil {
		return 0, oops.Code("INVALID_STEPS").Wrap(err)
	}
	if steps < 0 {
		return 0, oops.Code("INVALID_STEPS").With("steps", steps).Errorf("steps must be non-negative, got %d", steps)
	}
	return steps, nil
}

// runMigrateSteps moves n migrations, forward when n is positive.
func runMigrateSteps(cmd *cobra.Command, m SchemaMigrator, n int) error {
	if err := m.Steps(n); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate steps").With("steps", n).Wrap(err)
	}
	if n > 0 {
		cmd.Printf("Applied %d migration(s)\n", n)
	} else {
		cmd.Printf("Rolled back %d migration(s)\n", -n)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m SchemaMigrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}

	name := status.Name
	if status.Version == 0 {
		name = "none"
	}
	cmd.Printf("Current version: %d (%s)\n", status.Version, name)
	if len(status.Applied) > 0 {
		cmd.Printf("Applied migrations: %s\n", joinVersions(status.Applied))
	}
	if status.Dirty {
		cmd.Println("Schema is DIRTY: fix the failed migration, then run 'migrate force'")
	}
	if len(status.Pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	cmd.Printf("Pending migrations: %s\n", joinVersions(status.Pending))
	return nil
}

func joinVersions(versions []uint) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

// parseForceVersion reads a leading integer from s. Anything after the
// digits is ignored.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer, got %q", s)
	}
	return version, nil
}
