package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/db"
	"github.com/lumehealth/lume-sync/internal/logger"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
)

var syncUserID int64

// syncCmd runs one sync cycle for every configured source and exits. Useful
// for cron-style setups and for poking a live store from a shell.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot source sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Sync.BridgeURL == "" {
			return fmt.Errorf("sync.bridge_url not configured")
		}

		logger.Init(cfg.Log.Level)
		log := logger.L()
		defer func() { _ = log.Sync() }()

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
			return fmt.Errorf("migrate: %w", err)
		}

		eventsRepo := repository.NewEventsRepository(dbx)
		samplesRepo := repository.NewSamplesRepository(dbx)
		workoutsRepo := repository.NewWorkoutsRepository(dbx)
		measurementsRepo := repository.NewMeasurementsRepository(dbx)
		cursors := repository.NewCursorStore(samplesRepo, nil, cfg.Sync.CursorTTL)

		svc := tracker.New(dbx, eventsRepo, samplesRepo, workoutsRepo, measurementsRepo, cursors, log)

		ctx := context.Background()
		for _, h := range buildHandlers(cfg, cursors, svc, log) {
			sum, err := h.Sync(ctx, syncUserID)
			if err != nil {
				fmt.Printf("%-12s error: %v\n", h.Spec().ID, err)
				continue
			}
			if sum.Skipped {
				fmt.Printf("%-12s skipped (fresh)\n", sum.Source)
				continue
			}
			fmt.Printf("%-12s fetched=%d saved=%d duplicates=%d\n",
				sum.Source, sum.Fetched, sum.Saved, sum.Duplicates)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64Var(&syncUserID, "user", 1, "user id to sync")
}
