package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/logger"
	"github.com/lumehealth/lume-sync/internal/model"
)

// CursorStore answers "what is the latest locally-known timestamp for
// (user, source)". The cursor is derived from the samples table, not a
// server-acknowledged position; redis only caches the derived value.
// A nil redis client disables caching, cache errors fall through to the
// store.
type CursorStore struct {
	samples SamplesRepository
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCursorStore(samples SamplesRepository, rdb *redis.Client, ttl time.Duration) *CursorStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CursorStore{samples: samples, rdb: rdb, ttl: ttl}
}

func cursorKey(userID int64, sourceID model.SourceID) string {
	return "cursor:" + strconv.FormatInt(userID, 10) + ":" + sourceID.String()
}

// Latest returns the cursor timestamp, or ok=false when nothing local exists
// for the source yet (first sync).
func (c *CursorStore) Latest(ctx context.Context, userID int64, sourceID model.SourceID) (time.Time, bool, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cursorKey(userID, sourceID)).Result()
		if err == nil {
			if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
				return t, true, nil
			}
		} else if err != redis.Nil {
			logger.L().Debug("cursor cache read failed", zap.Error(err))
		}
	}

	t, ok, err := c.samples.LatestEndAt(ctx, userID, sourceID)
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, cursorKey(userID, sourceID), t.UTC().Format(time.RFC3339Nano), c.ttl).Err(); err != nil {
			logger.L().Debug("cursor cache write failed", zap.Error(err))
		}
	}
	return t, true, nil
}

// Invalidate drops the cached cursor after samples for (user, source) were
// written, so the next read recomputes the high-water mark.
func (c *CursorStore) Invalidate(ctx context.Context, userID int64, sourceID model.SourceID) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cursorKey(userID, sourceID)).Err(); err != nil {
		logger.L().Debug("cursor cache invalidate failed", zap.Error(err))
	}
}
