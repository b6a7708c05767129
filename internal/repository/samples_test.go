package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/util"
)

func TestSamplesInsertIgnoreDedupes(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewSamplesRepository(dbx)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	s := newSample(1, model.SourceSteps, at)
	inserted, err := repo.InsertIgnore(ctx, nil, s)
	require.NoError(t, err)
	assert.True(t, inserted)

	// same natural key, different id: must be ignored
	dup := newSample(1, model.SourceSteps, at)
	inserted, err = repo.InsertIgnore(ctx, nil, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	counts, err := repo.CountBySource(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.SourceSteps])

	// different source or different start_at is a different record
	inserted, err = repo.InsertIgnore(ctx, nil, newSample(1, model.SourceHeartRate, at))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = repo.InsertIgnore(ctx, nil, newSample(1, model.SourceSteps, at.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestSamplesLatestEndAt(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewSamplesRepository(dbx)
	ctx := context.Background()

	_, ok, err := repo.LatestEndAt(ctx, 1, model.SourceSleep)
	require.NoError(t, err)
	assert.False(t, ok, "no samples, no cursor")

	base := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	early := newSample(1, model.SourceSleep, base)
	early.EndAt = base.Add(6 * time.Hour)
	late := newSample(1, model.SourceSleep, base.Add(24*time.Hour))
	late.EndAt = base.Add(32 * time.Hour)

	_, err = repo.InsertIgnore(ctx, nil, early)
	require.NoError(t, err)
	_, err = repo.InsertIgnore(ctx, nil, late)
	require.NoError(t, err)

	got, ok, err := repo.LatestEndAt(ctx, 1, model.SourceSleep)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(late.EndAt), "cursor is the max end_at, got %v", got)

	// scoped per user and per source
	_, ok, err = repo.LatestEndAt(ctx, 2, model.SourceSleep)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = repo.LatestEndAt(ctx, 1, model.SourceSteps)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSamplesPointDefaultsEndToStart(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewSamplesRepository(dbx)
	ctx := context.Background()

	s := &model.HealthSample{
		ID:       util.New(),
		UserID:   1,
		SourceID: model.SourceHeartRate,
		StartAt:  time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		Value:    58,
		Unit:     "bpm",
	}
	inserted, err := repo.InsertIgnore(ctx, nil, s)
	require.NoError(t, err)
	require.True(t, inserted)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.EndAt.Equal(got.StartAt))
	assert.Equal(t, model.SyncPending, got.SyncStatus)
}

func TestSamplesSetSynced(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewSamplesRepository(dbx)
	ctx := context.Background()

	s := newSample(1, model.SourceSteps, time.Now().UTC())
	_, err := repo.InsertIgnore(ctx, nil, s)
	require.NoError(t, err)

	require.NoError(t, repo.SetSyncStatus(ctx, s.ID, model.SyncSyncing))
	require.NoError(t, repo.SetSynced(ctx, nil, s.ID, "rem-42"))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.SyncStatus)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "rem-42", *got.RemoteID)

	unsynced, err := repo.ListUnsynced(ctx, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}
