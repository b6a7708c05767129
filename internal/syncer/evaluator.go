package syncer

import (
	"context"
	"time"

	"github.com/lumehealth/lume-sync/internal/model"
)

// CursorSource is the read model the evaluator consults: the latest
// locally-known timestamp per (user, source). ok=false means nothing local
// exists yet.
type CursorSource interface {
	Latest(ctx context.Context, userID int64, sourceID model.SourceID) (time.Time, bool, error)
}

// SourceSpec describes one external data source. Thresholds are product
// tuning constants surfaced through config: point sources (steps, heart
// rate) use a short threshold, session-shaped sources (sleep) use a longer
// one plus a backward-widened fetch window so a session spanning midnight
// is never missed.
type SourceSpec struct {
	ID              model.SourceID
	Unit            string
	Threshold       time.Duration
	DefaultLookback time.Duration // window start when no cursor exists
	SessionShaped   bool
	SessionLookback time.Duration // extra backward widening for sessions
}

// Window is a resolved fetch window. Cursor carries the raw high-water mark
// so session-shaped handlers can discard already-known sessions pulled in by
// the widening.
type Window struct {
	From      time.Time
	To        time.Time
	Cursor    time.Time
	HasCursor bool
}

// Evaluator decides whether an external source needs to be queried at all.
type Evaluator struct {
	cursors CursorSource
	now     func() time.Time
}

func NewEvaluator(cursors CursorSource) *Evaluator {
	return &Evaluator{cursors: cursors, now: time.Now}
}

// ShouldSync is the freshness gate: true when no cursor exists (first sync)
// or the cursor is at least threshold old. A false verdict costs exactly one
// cursor lookup and nothing else.
func (e *Evaluator) ShouldSync(ctx context.Context, userID int64, sourceID model.SourceID, threshold time.Duration) (bool, error) {
	latest, ok, err := e.cursors.Latest(ctx, userID, sourceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if e.now().Sub(latest) < threshold {
		return false, nil
	}
	return true, nil
}

// FetchWindow computes [from, to] for a source that is due for a sync.
func (e *Evaluator) FetchWindow(ctx context.Context, userID int64, spec SourceSpec) (Window, error) {
	now := e.now()

	latest, ok, err := e.cursors.Latest(ctx, userID, spec.ID)
	if err != nil {
		return Window{}, err
	}

	w := Window{To: now, Cursor: latest, HasCursor: ok}
	if ok {
		w.From = latest
	} else {
		lookback := spec.DefaultLookback
		if lookback <= 0 {
			lookback = 7 * 24 * time.Hour
		}
		w.From = now.Add(-lookback)
	}

	// a sleep session can start before and end after the last known end;
	// widen backward so the window catches it, dedupe happens after fetch
	if spec.SessionShaped && spec.SessionLookback > 0 {
		w.From = w.From.Add(-spec.SessionLookback)
	}

	return w, nil
}
