package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pscheid92/stresspulse/internal/database"
	"github.com/spf13/cobra"
)

const migrateTimeout = 2 * time.Minute

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			pool, err := database.Connect(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.RunMigrations(ctx, pool); err != nil {
				return err
			}

			current, available, err := database.SchemaVersion(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d of %d\n", current, available)
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL (default $DATABASE_URL)")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if databaseURL == "" {
			return errors.New("--database-url or DATABASE_URL is required")
		}
		return nil
	}
	return cmd
}
