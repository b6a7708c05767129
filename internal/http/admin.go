package http

import (
	"context"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/outbox"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
)

func userIDParam(c echo.Context) (int64, bool) {
	raw := c.QueryParam("user_id")
	if raw == "" {
		raw = c.FormValue("user_id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// statusHandler returns the diagnostic snapshot: event counts by status,
// sample counts by source, and whether a processor is draining.
func statusHandler(svc *tracker.Service, mgr *outbox.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := userIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id required"})
		}

		snap, err := svc.Status(c.Request().Context(), userID)
		if err != nil {
			c.Logger().Errorf("status snapshot failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		activeUser, active := mgr.Active()
		return c.JSON(http.StatusOK, map[string]any{
			"snapshot":          snap,
			"processor_active":  active && activeUser == userID,
			"processor_user_id": activeUser,
		})
	}
}

// resetHandler is the emergency recovery path: stop the processor, wipe the
// event registry for the user, re-derive events from entity markers, and
// restart the processor. Rarely invoked, never automatic.
func resetHandler(svc *tracker.Service, mgr *outbox.Manager, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := userIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id required"})
		}

		activeUser, active := mgr.Active()
		restart := active && activeUser == userID
		if restart {
			mgr.Stop()
		}

		n, err := svc.Reset(c.Request().Context(), userID)
		if err != nil {
			log.Error("emergency reset failed", zap.Int64("user_id", userID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "reset failed"})
		}

		if restart {
			mgr.Start(context.Background(), userID)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"reset":     true,
			"user_id":   userID,
			"rederived": n,
		})
	}
}
