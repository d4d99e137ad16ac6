package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
)

func newDirectoryCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert directory users from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			users, err := repository.LoadUsersFile(args[0])
			if err != nil {
				return err
			}

			db, err := database.New(cmd.Context(), databaseConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.NewDirectoryRepository(db).Upsert(cmd.Context(), users); err != nil {
				return err
			}
			log.Info().Int("users", len(users)).Str("file", args[0]).Msg("Directory imported")
			return nil
		},
	})
	return cmd
}
