package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := repo.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := repo.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
