package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/db"
	"github.com/lumehealth/lume-sync/internal/gateway"
	httpSrv "github.com/lumehealth/lume-sync/internal/http"
	"github.com/lumehealth/lume-sync/internal/logger"
	"github.com/lumehealth/lume-sync/internal/metrics"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/outbox"
	"github.com/lumehealth/lume-sync/internal/reconcile"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
	"github.com/lumehealth/lume-sync/internal/syncer"
)

var serveUserID int64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync core: outbox processor, source sync, admin HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		log := logger.L()
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

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

		rds, err := db.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		if rds != nil {
			defer func() { _ = rds.Close() }()
		}

		eventsRepo := repository.NewEventsRepository(dbx)
		samplesRepo := repository.NewSamplesRepository(dbx)
		workoutsRepo := repository.NewWorkoutsRepository(dbx)
		measurementsRepo := repository.NewMeasurementsRepository(dbx)
		profilesRepo := repository.NewProfilesRepository(dbx)
		cursors := repository.NewCursorStore(samplesRepo, rds, cfg.Sync.CursorTTL)

		svc := tracker.New(dbx, eventsRepo, samplesRepo, workoutsRepo, measurementsRepo, cursors, log)

		gw := gateway.NewHTTPGateway(
			cfg.Gateway.BaseURL,
			cfg.Gateway.TimeoutMs,
			cfg.Gateway.Breaker.FailThreshold,
			cfg.Gateway.Breaker.OpenForMs,
		)
		registry := outbox.NewRegistry(svc.RelayHandlers(gw)...)

		mgr := outbox.NewManager(func(userID int64) *outbox.Processor {
			return outbox.NewProcessor(dbx, eventsRepo, registry, outbox.Config{
				PollInterval:    cfg.Outbox.PollInterval,
				CleanupInterval: cfg.Outbox.CleanupInterval,
				BatchSize:       cfg.Outbox.BatchSize,
				MaxAttempts:     cfg.Outbox.MaxAttempts,
				BackoffBase:     cfg.Outbox.BackoffBase,
				BackoffCap:      cfg.Outbox.BackoffCap,
				ClaimGrace:      cfg.Outbox.ClaimGrace,
			}, log, userID)
		}, log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// session start: reconcile the profile before anything is relayed
		rec := reconcile.NewReconciler(gw, profilesRepo, log)
		if _, err := rec.Reconcile(ctx, serveUserID, nil); err != nil {
			log.Warn("profile reconcile at startup failed", zap.Error(err))
		}

		mgr.Start(ctx, serveUserID)
		defer mgr.Stop()

		// source sync: debounced fan-out over every configured source. The
		// bridge has no push channel, so a coarse poll stands in for
		// platform change notifications.
		var deb *syncer.Debouncer
		if cfg.Sync.BridgeURL != "" {
			handlers := buildHandlers(cfg, cursors, svc, log)
			deb = syncer.NewDebouncer(cfg.Sync.Debounce, func() {
				runHandlers(ctx, handlers, serveUserID, log)
			})
			defer deb.Stop()
			deb.Trigger()

			go func() {
				t := time.NewTicker(15 * time.Minute)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						deb.Trigger()
					}
				}
			}()
		}

		server := httpSrv.NewServer(cfg, svc, mgr, rds, log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = server.Shutdown(shutCtx)

		return nil
	},
}

func init() {
	serveCmd.Flags().Int64Var(&serveUserID, "user", 1, "user id this device session belongs to")
}

func buildHandlers(cfg config.Config, cursors *repository.CursorStore, svc *tracker.Service, log *zap.Logger) []*syncer.Handler {
	src := syncer.NewHTTPSource(cfg.Sync.BridgeURL, time.Duration(cfg.Gateway.TimeoutMs)*time.Millisecond)
	eval := syncer.NewEvaluator(cursors)

	var hs []*syncer.Handler
	for _, sc := range cfg.Sources {
		id, ok := model.ParseSourceID(sc.Name)
		if !ok {
			log.Warn("unknown source in config, skipping", zap.String("name", sc.Name))
			continue
		}
		spec := syncer.SourceSpec{
			ID:              id,
			Unit:            sc.Unit,
			Threshold:       sc.Threshold,
			DefaultLookback: sc.DefaultLookback,
			SessionShaped:   sc.SessionShaped,
			SessionLookback: sc.SessionLookback,
		}
		hs = append(hs, syncer.NewHandler(spec, eval, src, svc, log))
	}
	return hs
}

func runHandlers(ctx context.Context, hs []*syncer.Handler, userID int64, log *zap.Logger) {
	for _, h := range hs {
		if ctx.Err() != nil {
			return
		}
		if _, err := h.Sync(ctx, userID); err != nil {
			log.Error("source sync failed",
				zap.String("source", string(h.Spec().ID)), zap.Error(err))
		}
	}
}
