package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/db"
	"github.com/lumehealth/lume-sync/internal/logger"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
	"github.com/lumehealth/lume-sync/internal/util"
)

var seedUserID int64

// seedCmd writes demo data through the real domain write path, so it also
// exercises outbox event creation and natural-key dedupe.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the local store with demo data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		log := logger.L()

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
		profilesRepo := repository.NewProfilesRepository(dbx)
		cursors := repository.NewCursorStore(samplesRepo, nil, cfg.Sync.CursorTTL)

		svc := tracker.New(dbx, eventsRepo, samplesRepo, workoutsRepo, measurementsRepo, cursors, log)

		ctx := context.Background()
		now := time.Now().UTC()

		bio := "Demo account"
		height := 178.0
		if err := profilesRepo.Upsert(ctx, &model.Profile{
			UserID:      seedUserID,
			DisplayName: "Demo User",
			Biography:   &bio,
			HeightCm:    &height,
			UpdatedAt:   now,
		}); err != nil {
			return fmt.Errorf("seed profile: %w", err)
		}

		if _, err := svc.RecordMeasurement(ctx, model.Measurement{
			UserID:     seedUserID,
			Metric:     "weight",
			Value:      81.4,
			Unit:       "kg",
			RecordedAt: now.Add(-2 * time.Hour),
		}); err != nil {
			return fmt.Errorf("seed measurement: %w", err)
		}

		if _, err := svc.RecordWorkout(ctx, model.Workout{
			UserID:     seedUserID,
			Name:       "Morning Run",
			StartedAt:  now.Add(-26 * time.Hour),
			EndedAt:    now.Add(-25 * time.Hour),
			EnergyKcal: 430,
			Source:     "manual",
		}); err != nil {
			return fmt.Errorf("seed workout: %w", err)
		}

		samples := []model.HealthSample{
			{
				ID:       util.New(),
				UserID:   seedUserID,
				SourceID: model.SourceSteps,
				StartAt:  now.Add(-3 * time.Hour),
				EndAt:    now.Add(-3 * time.Hour),
				Value:    2400,
				Unit:     "count",
			},
			{
				ID:       util.New(),
				UserID:   seedUserID,
				SourceID: model.SourceHeartRate,
				StartAt:  now.Add(-90 * time.Minute),
				EndAt:    now.Add(-90 * time.Minute),
				Value:    62,
				Unit:     "bpm",
			},
			{
				ID:       util.New(),
				UserID:   seedUserID,
				SourceID: model.SourceSleep,
				StartAt:  now.Add(-9 * time.Hour),
				EndAt:    now.Add(-90 * time.Minute),
				Value:    7.5,
				Unit:     "hours",
			},
		}
		saved, err := svc.RecordSamples(ctx, seedUserID, samples)
		if err != nil {
			return fmt.Errorf("seed samples: %w", err)
		}

		fmt.Printf(">> Seed complete: profile, 1 measurement, 1 workout, %d samples\n", saved)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int64Var(&seedUserID, "user", 1, "user id to seed")
}
