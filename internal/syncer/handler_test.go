package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/model"
)

type fakeSource struct {
	samples []RawSample
	err     error

	gotFrom, gotTo time.Time
	calls          int
}

func (f *fakeSource) Query(ctx context.Context, sourceID model.SourceID, from, to time.Time) ([]RawSample, error) {
	f.calls++
	f.gotFrom, f.gotTo = from, to
	return f.samples, f.err
}

// fakeWriter pretends the first `existing` natural keys are already stored.
type fakeWriter struct {
	existing map[time.Time]bool
	err      error
	got      []model.HealthSample
}

func (f *fakeWriter) RecordSamples(ctx context.Context, userID int64, samples []model.HealthSample) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.got = samples
	saved := 0
	for _, s := range samples {
		if !f.existing[s.StartAt] {
			saved++
		}
	}
	return saved, nil
}

func TestHandlerSyncSkipsFreshSource(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eval := fixedEvaluator(&fakeCursors{
		latest: map[model.SourceID]time.Time{model.SourceSteps: now.Add(-5 * time.Minute)},
	}, now)
	src := &fakeSource{}
	h := NewHandler(SourceSpec{ID: model.SourceSteps, Threshold: time.Hour}, eval, src, &fakeWriter{}, zap.NewNop())

	sum, err := h.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
	assert.Zero(t, src.calls, "fresh source must cost zero external calls")
}

func TestHandlerSyncSavesAndCounts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eval := fixedEvaluator(&fakeCursors{latest: map[model.SourceID]time.Time{}}, now)

	a := now.Add(-2 * time.Hour)
	b := now.Add(-1 * time.Hour)
	src := &fakeSource{samples: []RawSample{
		{StartAt: a, Value: 1200, Unit: "count"},
		{StartAt: b, Value: 800, Unit: "count"},
	}}
	w := &fakeWriter{existing: map[time.Time]bool{a.UTC(): true}}
	h := NewHandler(SourceSpec{ID: model.SourceSteps, Threshold: time.Hour, Unit: "count"}, eval, src, w, zap.NewNop())

	sum, err := h.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sum.Skipped)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 1, sum.Saved, "saved counts actual inserts, not fetches")
	assert.Equal(t, 1, sum.Duplicates)
}

func TestHandlerNormalizeDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eval := fixedEvaluator(&fakeCursors{latest: map[model.SourceID]time.Time{}}, now)

	at := now.Add(-time.Hour)
	src := &fakeSource{samples: []RawSample{{StartAt: at, Value: 61}}}
	w := &fakeWriter{}
	h := NewHandler(SourceSpec{ID: model.SourceHeartRate, Threshold: time.Hour, Unit: "bpm"}, eval, src, w, zap.NewNop())

	_, err := h.Sync(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, w.got, 1)
	got := w.got[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, model.SourceHeartRate, got.SourceID)
	assert.True(t, got.EndAt.Equal(got.StartAt), "point sample defaults end to start")
	assert.Equal(t, "bpm", got.Unit, "missing unit falls back to the source spec")
}

func TestHandlerSessionDiscardAtCursor(t *testing.T) {
	// sleep cursor at 07:00; the widened window re-fetches the previous
	// night's session, which must be discarded, while the new cross-midnight
	// session passes through
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	cursor := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	eval := fixedEvaluator(&fakeCursors{
		latest: map[model.SourceID]time.Time{model.SourceSleep: cursor},
	}, now)

	known := RawSample{
		StartAt: time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC),
		EndAt:   cursor, // ends exactly at the cursor: not strictly after, discard
		Value:   8, Unit: "hours",
	}
	fresh := RawSample{
		StartAt: time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 3, 11, 6, 45, 0, 0, time.UTC),
		Value:   7.25, Unit: "hours",
	}
	src := &fakeSource{samples: []RawSample{known, fresh}}
	w := &fakeWriter{}
	spec := SourceSpec{
		ID:              model.SourceSleep,
		Threshold:       6 * time.Hour,
		SessionShaped:   true,
		SessionLookback: 24 * time.Hour,
	}
	h := NewHandler(spec, eval, src, w, zap.NewNop())

	sum, err := h.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Fetched)
	require.Len(t, w.got, 1, "only the session past the cursor reaches the writer")
	assert.True(t, w.got[0].EndAt.Equal(fresh.EndAt))
	assert.True(t, src.gotFrom.Equal(cursor.Add(-24*time.Hour)), "query window widened backward")
}

func TestHandlerSyncFetchErrorWritesNothing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eval := fixedEvaluator(&fakeCursors{latest: map[model.SourceID]time.Time{}}, now)
	src := &fakeSource{err: errors.New("bridge unreachable")}
	w := &fakeWriter{}
	h := NewHandler(SourceSpec{ID: model.SourceSteps, Threshold: time.Hour}, eval, src, w, zap.NewNop())

	_, err := h.Sync(context.Background(), 1)
	assert.Error(t, err)
	assert.Nil(t, w.got, "fetch failure must not reach the writer")
}
