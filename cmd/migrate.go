package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-finsight/pkg/database"
)

//nolint:gochecknoglobals // cobra flags
var rollbackSteps int

//nolint:gochecknoglobals // cobra commands are package level
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the operational store schema",
}

//nolint:gochecknoglobals // cobra commands are package level
var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := database.Open(cmd.Context(), &cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.RunMigrations(db.StdDB(), cfg.Database.MigrationsPath, logger)
	},
}

//nolint:gochecknoglobals // cobra commands are package level
var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if rollbackSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		db, err := database.Open(cmd.Context(), &cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.RollbackMigrations(db.StdDB(), cfg.Database.MigrationsPath, rollbackSteps, logger)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
