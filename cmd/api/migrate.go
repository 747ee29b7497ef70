package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testdocs/api/internal/store"
)

func init() {
	MigrateCommand.Flags().Bool("status", false, "list migrations and whether they are applied, without applying anything")
	RootCmd.AddCommand(&MigrateCommand)
}

var MigrateCommand = cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply every pending *.up.sql migration in order, each in its own transaction.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, cleanup, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if statusOnly, _ := cmd.Flags().GetBool("status"); statusOnly {
			states, err := store.MigrationStatus(ctx, rt.db, rt.cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			for _, state := range states {
				if state.Applied {
					cmd.Printf("%s\tapplied %s\n", state.Version, state.AppliedAt.Format("2006-01-02 15:04:05"))
				} else {
					cmd.Printf("%s\tpending\n", state.Version)
				}
			}
			return nil
		}

		applied, err := store.ApplyMigrations(ctx, rt.db, rt.cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		rt.logger.Info("migrations applied", zap.Strings("versions", applied))
		cmd.Printf("%d migration(s) applied\n", len(applied))
		return nil
	},
}
