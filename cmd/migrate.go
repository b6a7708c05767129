package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema to the local store (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		dbx, err := db.NewSQLiteConnection(cfg.SQLite.Path, db.SQLiteOpts{
			MaxOpenConns:    cfg.SQLite.MaxOpenConns,
			BusyTimeout:     cfg.SQLite.BusyTimeout,
			ConnMaxLifetime: cfg.SQLite.ConnMaxLifetime,
			PingTimeout:     cfg.SQLite.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer dbx.Close()

		if err := db.Migrate(dbx); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}
