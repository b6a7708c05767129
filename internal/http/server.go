// Package http is the operator-facing admin surface: status snapshot,
// emergency reset, health and metrics. It is not a user API.
package http

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	gommonLog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/http/middleware"
	"github.com/lumehealth/lume-sync/internal/outbox"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, svc *tracker.Service, mgr *outbox.Manager, rds *redis.Client, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(gommonLog.WARN) // zap carries the structured logs
	e.Use(echoMid.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.AdminTokenMiddleware(cfg.Admin.Token)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.Admin.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.GET("/sync/status", statusHandler(svc, mgr))
	v1.POST("/sync/reset", resetHandler(svc, mgr, log))

	return &Server{e: e, log: log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("admin http listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
