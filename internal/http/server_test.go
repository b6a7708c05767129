package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/db"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/outbox"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/service/tracker"
)

func newTestServer(t *testing.T) (*Server, *tracker.Service) {
	t.Helper()
	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dbx))
	t.Cleanup(func() { _ = dbx.Close() })

	events := repository.NewEventsRepository(dbx)
	samples := repository.NewSamplesRepository(dbx)
	workouts := repository.NewWorkoutsRepository(dbx)
	measurements := repository.NewMeasurementsRepository(dbx)
	cursors := repository.NewCursorStore(samples, nil, 0)

	log := zap.NewNop()
	svc := tracker.New(dbx, events, samples, workouts, measurements, cursors, log)
	mgr := outbox.NewManager(func(userID int64) *outbox.Processor {
		return outbox.NewProcessor(dbx, events, outbox.NewRegistry(), outbox.Config{}, log, userID)
	}, log)

	cfg := config.Config{Admin: config.AdminConfig{Token: "secret"}}
	return NewServer(cfg, svc, mgr, nil, log), svc
}

func TestAdminTokenRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/status?user_id=1", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-Admin-Token", "wrong")
	rec = httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	_, err := svc.RecordSamples(ctx, 1, []model.HealthSample{{
		SourceID: model.SourceSteps,
		StartAt:  time.Now().UTC(),
		Value:    100,
		Unit:     "count",
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/status?user_id=1", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Snapshot        tracker.Snapshot `json:"snapshot"`
		ProcessorActive bool             `json:"processor_active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Snapshot.UserID)
	assert.Equal(t, int64(1), body.Snapshot.EventsByStatus[model.EventStatusPending])
	assert.False(t, body.ProcessorActive)
}

func TestStatusRejectsBadUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, q := range []string{"", "?user_id=abc", "?user_id=0"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/sync/status"+q, nil)
		req.Header.Set("X-Admin-Token", "secret")
		rec := httptest.NewRecorder()
		srv.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q", q)
	}
}

func TestResetEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	_, err := svc.RecordSamples(ctx, 1, []model.HealthSample{{
		SourceID: model.SourceSteps,
		StartAt:  time.Now().UTC(),
		Value:    100,
		Unit:     "count",
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/reset?user_id=1", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reset     bool `json:"reset"`
		Rederived int  `json:"rederived"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Reset)
	assert.Equal(t, 1, body.Rederived, "the unsynced sample gets a fresh event")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
