package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-crm-activities/migrations"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := database.New(ctx, databaseConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			sqlDB := db.StdDB()
			defer sqlDB.Close()

			if status {
				return migrations.Status(ctx, sqlDB)
			}
			if err := migrations.Up(ctx, sqlDB); err != nil {
				return err
			}
			log.Info().Msg("Migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}
