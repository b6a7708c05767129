package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/model"
)

func TestEventsInsertAndFetchPending(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	ev := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, ev))

	got, err := repo.FetchPending(ctx, 1, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, model.EventStatusPending, got[0].Status)
	assert.True(t, got[0].IsCreate)
	assert.Equal(t, 0, got[0].Attempts)

	// other users' events are invisible
	other, err := repo.FetchPending(ctx, 2, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestEventsDuplicateActiveRejected(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	ev := newEvent(1, model.KindWorkout)
	require.NoError(t, repo.Insert(ctx, nil, ev))

	dup := newEvent(1, model.KindWorkout)
	dup.EntityID = ev.EntityID
	err := repo.Insert(ctx, nil, dup)
	require.ErrorIs(t, err, ErrDuplicateActiveEvent)

	// same entity id under a different kind is a different entity
	otherKind := newEvent(1, model.KindMeasurement)
	otherKind.EntityID = ev.EntityID
	require.NoError(t, repo.Insert(ctx, nil, otherKind))
}

func TestEventsDuplicateAllowedAfterDelete(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	ev := newEvent(1, model.KindSample)
	require.NoError(t, repo.Insert(ctx, nil, ev))
	require.NoError(t, repo.Delete(ctx, nil, ev.ID))

	again := newEvent(1, model.KindSample)
	again.EntityID = ev.EntityID
	require.NoError(t, repo.Insert(ctx, nil, again))
}

func TestEventsGetByEntity(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	got, err := repo.GetByEntity(ctx, nil, "missing", model.KindMeasurement)
	require.NoError(t, err)
	assert.Nil(t, got)

	ev := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, ev))

	got, err = repo.GetByEntity(ctx, nil, ev.EntityID, model.KindMeasurement)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev.ID, got.ID)
}

func TestEventsReplacePayload(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	ev := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, ev))
	require.NoError(t, repo.ReplacePayload(ctx, nil, ev.ID, false, []byte(`{"value":2}`)))

	got, err := repo.GetByEntity(ctx, nil, ev.EntityID, model.KindMeasurement)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsCreate)
	assert.JSONEq(t, `{"value":2}`, string(got.Payload))
}

func TestEventsClaimCAS(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now()

	ev := newEvent(1, model.KindSample)
	require.NoError(t, repo.Insert(ctx, nil, ev))

	require.NoError(t, repo.MarkProcessing(ctx, ev.ID, now))
	// second claim must lose
	err := repo.MarkProcessing(ctx, ev.ID, now)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	// claimed event is no longer pending-visible
	got, err := repo.FetchPending(ctx, 1, now, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventsFetchPendingOrderAndEligibility(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newEvent(1, model.KindMeasurement)
	first.CreatedAt = now.Add(-3 * time.Minute)
	second := newEvent(1, model.KindMeasurement)
	second.CreatedAt = now.Add(-2 * time.Minute)
	urgent := newEvent(1, model.KindMeasurement)
	urgent.CreatedAt = now.Add(-1 * time.Minute)
	urgent.Priority = -1
	deferred := newEvent(1, model.KindMeasurement)
	deferred.NextEligibleAt = now.Add(10 * time.Minute)

	for _, ev := range []*model.Event{first, second, urgent, deferred} {
		require.NoError(t, repo.Insert(ctx, nil, ev))
	}

	got, err := repo.FetchPending(ctx, 1, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "deferred event must not be eligible yet")
	assert.Equal(t, urgent.ID, got[0].ID, "lower priority sorts first")
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, second.ID, got[2].ID)

	// once the clock passes next_eligible_at the deferred event shows up
	got, err = repo.FetchPending(ctx, 1, now.Add(11*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestEventsRetryLater(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := newEvent(1, model.KindWorkout)
	require.NoError(t, repo.Insert(ctx, nil, ev))
	require.NoError(t, repo.MarkProcessing(ctx, ev.ID, now))
	require.NoError(t, repo.RetryLater(ctx, ev.ID, now.Add(30*time.Second), now))

	got, err := repo.GetByEntity(ctx, nil, ev.EntityID, model.KindWorkout)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.EventStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// not eligible until the backoff elapses
	pend, err := repo.FetchPending(ctx, 1, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pend)
	pend, err = repo.FetchPending(ctx, 1, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, pend, 1)
}

func TestEventsRetryLaterRequiresProcessing(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := newEvent(1, model.KindWorkout)
	require.NoError(t, repo.Insert(ctx, nil, ev))

	// event was never claimed; RetryLater must be a no-op
	require.NoError(t, repo.RetryLater(ctx, ev.ID, now.Add(time.Minute), now))
	got, err := repo.GetByEntity(ctx, nil, ev.EntityID, model.KindWorkout)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
}

func TestEventsMarkFailedKeepsRow(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, ev))
	require.NoError(t, repo.MarkProcessing(ctx, ev.ID, now))
	require.NoError(t, repo.MarkFailed(ctx, ev.ID, "backend said 422", now))

	got, err := repo.GetByEntity(ctx, nil, ev.EntityID, model.KindMeasurement)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.EventStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "backend said 422", *got.LastError)

	// failed events do not re-enter the relay loop
	pend, err := repo.FetchPending(ctx, 1, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pend)
}

func TestEventsDeleteCompletedBefore(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	done := newEvent(1, model.KindSample)
	require.NoError(t, repo.Insert(ctx, nil, done))
	require.NoError(t, repo.MarkProcessing(ctx, done.ID, now))
	require.NoError(t, repo.MarkCompleted(ctx, done.ID, now))

	live := newEvent(1, model.KindSample)
	require.NoError(t, repo.Insert(ctx, nil, live))

	n, err := repo.DeleteCompletedBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := repo.CountByStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.EventStatusPending])
	assert.Zero(t, counts[model.EventStatusCompleted])
}

func TestEventsReclaimStale(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, stale))
	require.NoError(t, repo.MarkProcessing(ctx, stale.ID, now.Add(-10*time.Minute)))

	fresh := newEvent(1, model.KindMeasurement)
	require.NoError(t, repo.Insert(ctx, nil, fresh))
	require.NoError(t, repo.MarkProcessing(ctx, fresh.ID, now))

	n, err := repo.ReclaimStale(ctx, now.Add(-2*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByEntity(ctx, nil, stale.EntityID, model.KindMeasurement)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPending, got.Status)

	got, err = repo.GetByEntity(ctx, nil, fresh.EntityID, model.KindMeasurement)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessing, got.Status)
}

func TestEventsDeleteAllForUser(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, nil, newEvent(1, model.KindSample)))
	}
	keep := newEvent(2, model.KindSample)
	require.NoError(t, repo.Insert(ctx, nil, keep))

	require.NoError(t, repo.DeleteAllForUser(ctx, nil, 1))

	counts, err := repo.CountByStatus(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, counts)

	counts, err = repo.CountByStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.EventStatusPending])
}

func TestEventsFetchPendingLimit(t *testing.T) {
	dbx := newTestDB(t)
	repo := NewEventsRepository(dbx)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 15; i++ {
		ev := newEvent(1, model.KindSample)
		ev.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, repo.Insert(ctx, nil, ev))
	}

	got, err := repo.FetchPending(ctx, 1, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}
