// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package main

import (
	"context"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shorebound/shorebound/internal/config"
	"github.com/shorebound/shorebound/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run all pending database migrations against the PostgreSQL database.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" && configFile != "" {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("DATABASE_URL environment variable or --config is required")
	}

	ctx := context.Background()

	cmd.Println("Connecting to database...")
	persist, err := store.NewPostgresGateway(ctx, databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer persist.Close()

	cmd.Println("Running migrations...")
	if err := persist.Migrate(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
