package main

import (
	"errors"

	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := repository.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.Migrate(cmd.Context(), pool); err != nil {
		return err
	}
	logger.Info().Msg("database schema applied")
	return nil
}
