// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Shorebound CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shorebound",
		Short: "Shorebound - a 2D multiplayer world server",
		Long: `Shorebound routes players of a shared 2D world into bounded
parallel copies of each location, keeps every instance's session state
authoritative, and enforces moderation policy in real time.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
