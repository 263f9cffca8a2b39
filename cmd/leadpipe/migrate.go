package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply any pending schema migrations to the leadpipe database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// initStorage already migrates; this command exists so operators can
			// run migrations explicitly, e.g. before a deploy.
			store, err := initStorage(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close database", "error", closeErr)
				}
			}()

			fmt.Println("Database schema is up to date")
			return nil
		},
	}
}
