package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vpngw/server/internal/config"
	"github.com/vpngw/server/internal/store"
)

// newMigrateCmd applies the schema in internal/store's embedded statements.
// NewPostgres runs them as part of connecting, so migrate is just "connect
// once and exit" — safe to run repeatedly, every statement is idempotent.
func newMigrateCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := store.NewPostgres(context.Background(), store.PostgresConfig{
				Host:     cfg.DBHost,
				Port:     cfg.DBPort,
				Database: cfg.DBName,
				User:     cfg.DBUser,
				Password: cfg.DBPassword,
				MaxConns: 2,
			})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer db.Close()

			log.Info("schema applied", "database", cfg.DBName)
			return nil
		},
	}
}
