package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/metrics"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/util"
)

// RawSample is one record as returned by an external data source, before
// normalization.
type RawSample struct {
	SourceID model.SourceID `json:"source_id"`
	StartAt  time.Time      `json:"start_at"`
	EndAt    time.Time      `json:"end_at"`
	Value    float64        `json:"value"`
	Unit     string         `json:"unit"`
}

// ExternalSource is the query primitive over the platform health-data API
// (or the bridge that fronts it). Observation/subscription lives outside
// this core; notifications arrive via Debouncer.Trigger.
type ExternalSource interface {
	Query(ctx context.Context, sourceID model.SourceID, from, to time.Time) ([]RawSample, error)
}

// Writer is the domain write path. It owns natural-key duplicate detection
// and creates the outbox event for every sample actually persisted; the
// returned count is inserts only, not fetches.
type Writer interface {
	RecordSamples(ctx context.Context, userID int64, samples []model.HealthSample) (int, error)
}

// Summary reports what a sync cycle actually did. Saved counts new local
// writes; fetched-but-already-present records land in Duplicates so the
// numbers never overstate sync effectiveness.
type Summary struct {
	Source     model.SourceID `json:"source"`
	Skipped    bool           `json:"skipped"`
	Fetched    int            `json:"fetched"`
	Saved      int            `json:"saved"`
	Duplicates int            `json:"duplicates"`
}

// Handler bridges one external source into the domain write path, asking the
// evaluator first so a fresh source costs zero external calls.
type Handler struct {
	spec   SourceSpec
	eval   *Evaluator
	source ExternalSource
	writer Writer
	log    *zap.Logger
}

func NewHandler(spec SourceSpec, eval *Evaluator, source ExternalSource, writer Writer, log *zap.Logger) *Handler {
	return &Handler{
		spec:   spec,
		eval:   eval,
		source: source,
		writer: writer,
		log:    log.With(zap.String("source", spec.ID.String())),
	}
}

func (h *Handler) Spec() SourceSpec { return h.spec }

// Sync runs one cycle for the user. Fetch failures write nothing; the cursor
// did not advance, so the next scheduled opportunity retries naturally.
func (h *Handler) Sync(ctx context.Context, userID int64) (Summary, error) {
	sum := Summary{Source: h.spec.ID}

	due, err := h.eval.ShouldSync(ctx, userID, h.spec.ID, h.spec.Threshold)
	if err != nil {
		return sum, fmt.Errorf("evaluate %s: %w", h.spec.ID, err)
	}
	if !due {
		sum.Skipped = true
		h.log.Debug("source fresh, skipping", zap.Int64("user_id", userID))
		return sum, nil
	}

	w, err := h.eval.FetchWindow(ctx, userID, h.spec)
	if err != nil {
		return sum, fmt.Errorf("fetch window %s: %w", h.spec.ID, err)
	}

	raw, err := h.source.Query(ctx, h.spec.ID, w.From, w.To)
	if err != nil {
		metrics.SourceSyncTotal.WithLabelValues(h.spec.ID.String(), "fetch_error").Inc()
		h.log.Warn("external source query failed",
			zap.Int64("user_id", userID),
			zap.Time("from", w.From),
			zap.Time("to", w.To),
			zap.Error(err))
		return sum, err
	}
	sum.Fetched = len(raw)

	samples := make([]model.HealthSample, 0, len(raw))
	for _, rs := range raw {
		// the widened window re-fetches sessions we already hold; anything
		// not strictly past the cursor has been processed before
		if h.spec.SessionShaped && w.HasCursor && !rs.EndAt.After(w.Cursor) {
			continue
		}
		samples = append(samples, h.normalize(userID, rs))
	}

	saved, err := h.writer.RecordSamples(ctx, userID, samples)
	if err != nil {
		return sum, fmt.Errorf("record %s samples: %w", h.spec.ID, err)
	}
	sum.Saved = saved
	sum.Duplicates = sum.Fetched - saved

	metrics.SourceSyncTotal.WithLabelValues(h.spec.ID.String(), "saved").Add(float64(sum.Saved))
	metrics.SourceSyncTotal.WithLabelValues(h.spec.ID.String(), "duplicate").Add(float64(sum.Duplicates))

	h.log.Info("source sync done",
		zap.Int64("user_id", userID),
		zap.Int("fetched", sum.Fetched),
		zap.Int("saved", sum.Saved),
		zap.Int("duplicates", sum.Duplicates))
	return sum, nil
}

func (h *Handler) normalize(userID int64, rs RawSample) model.HealthSample {
	end := rs.EndAt
	if end.IsZero() {
		end = rs.StartAt
	}
	unit := rs.Unit
	if unit == "" {
		unit = h.spec.Unit
	}
	return model.HealthSample{
		ID:       util.New(),
		UserID:   userID,
		SourceID: h.spec.ID,
		StartAt:  rs.StartAt.UTC(),
		EndAt:    end.UTC(),
		Value:    rs.Value,
		Unit:     unit,
	}
}
