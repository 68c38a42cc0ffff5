package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
)

func migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply every pending migration from the migrations directory.

Only the DB_* variables are required, so migrations can run before the
payment, storage and email credentials are provisioned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			pg, err := config.PostgresFromEnv(os.Getenv)
			if err != nil {
				return err
			}
			if path != "" {
				pg.MigrationsPath = path
			}
			if err := db.Migrate(pg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "migrations directory (overrides DB_MIGRATIONS_PATH)")
	return cmd
}
