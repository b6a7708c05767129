package repository

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/db"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/util"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dbx))
	t.Cleanup(func() { _ = dbx.Close() })
	return dbx
}

func newEvent(userID int64, kind model.EntityKind) *model.Event {
	return &model.Event{
		ID:         util.New(),
		UserID:     userID,
		EntityID:   util.New(),
		EntityKind: kind,
		IsCreate:   true,
		Payload:    []byte(`{"value":1}`),
	}
}

func newSample(userID int64, source model.SourceID, at time.Time) *model.HealthSample {
	return &model.HealthSample{
		ID:       util.New(),
		UserID:   userID,
		SourceID: source,
		StartAt:  at,
		EndAt:    at,
		Value:    1,
		Unit:     "count",
	}
}
