// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ThinkGreen CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thinkgreen",
		Short: "ThinkGreen - account signup and login service",
		Long: `ThinkGreen runs the account service: email verification codes,
password login with a second factor, and signed session cookies.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/thinkgreen/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())

	return cmd
}
