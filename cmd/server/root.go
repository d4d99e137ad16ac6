package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-crm-activities/pkg/config"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:           "crm-activities",
		Short:         "Sales activity verification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the environment")

	load := func() (*config.Config, *logger.Logger, error) {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return nil, nil, err
		}
		log := logger.New(logger.Config{
			Level:       cfg.Service.LogLevel,
			Environment: cfg.Service.Environment,
			ServiceName: cfg.Service.Name,
			Version:     cfg.Service.Version,
		})
		return cfg, log, nil
	}

	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newMigrateCmd(load))
	cmd.AddCommand(newDirectoryCmd(load))
	return cmd
}

type loadFunc func() (*config.Config, *logger.Logger, error)

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	}
}
