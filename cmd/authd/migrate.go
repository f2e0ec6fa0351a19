package main

import (
	"github.com/goliatone/go-errors"
	"github.com/spf13/cobra"

	auth "github.com/greensol/go-auth"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending schema migrations for the configured database driver.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	repo, err := auth.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "connect to database")
	}
	defer repo.Close()

	cmd.Println("Running migrations...")
	if err := repo.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "run migrations")
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
