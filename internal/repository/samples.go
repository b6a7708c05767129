package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

// SamplesRepository persists external-source health samples.
type SamplesRepository interface {
	// InsertIgnore writes a sample unless one with the same natural key
	// (user_id, source_id, start_at) exists. Returns whether a row was
	// actually inserted; that bool is what sync summaries must count.
	InsertIgnore(ctx context.Context, tx *sqlx.Tx, s *model.HealthSample) (bool, error)
	SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error
	SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error
	GetByID(ctx context.Context, id string) (*model.HealthSample, error)
	// LatestEndAt is the sync cursor source: the most recent end timestamp
	// among local samples for (user, source).
	LatestEndAt(ctx context.Context, userID int64, sourceID model.SourceID) (time.Time, bool, error)
	ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.HealthSample, error)
	CountBySource(ctx context.Context, userID int64) (map[model.SourceID]int64, error)
}

type SamplesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSamplesRepository(db *sqlx.DB) *SamplesRepositoryImpl {
	return &SamplesRepositoryImpl{db: db}
}

var _ SamplesRepository = (*SamplesRepositoryImpl)(nil)

const sampleColumns = `id, user_id, source_id, start_at, end_at, value, unit,
	sync_status, remote_id, created_at, updated_at`

func (r *SamplesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *SamplesRepositoryImpl) InsertIgnore(ctx context.Context, tx *sqlx.Tx, s *model.HealthSample) (bool, error) {
	now := time.Now().UTC()
	if s.SyncStatus == "" {
		s.SyncStatus = model.SyncPending
	}
	if s.EndAt.IsZero() {
		s.EndAt = s.StartAt
	}

	const q = `
		INSERT OR IGNORE INTO health_samples
		    (id, user_id, source_id, start_at, end_at, value, unit, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	inserted := false
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			s.ID, s.UserID, s.SourceID.String(), s.StartAt.UTC(), s.EndAt.UTC(),
			s.Value, s.Unit, s.SyncStatus.String(), now, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

func (r *SamplesRepositoryImpl) SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE health_samples
			   SET sync_status = 'synced', remote_id = ?, updated_at = ?
			 WHERE id = ?
		`, remoteID, time.Now().UTC(), id)
		return err
	})
}

func (r *SamplesRepositoryImpl) SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE health_samples SET sync_status = ?, updated_at = ? WHERE id = ?
	`, st.String(), time.Now().UTC(), id)
	return err
}

func (r *SamplesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.HealthSample, error) {
	var s model.HealthSample
	err := r.db.GetContext(ctx, &s, `
		SELECT `+sampleColumns+` FROM health_samples WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SamplesRepositoryImpl) LatestEndAt(ctx context.Context, userID int64, sourceID model.SourceID) (time.Time, bool, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `
		SELECT end_at FROM health_samples
		 WHERE user_id = ? AND source_id = ?
		 ORDER BY end_at DESC LIMIT 1
	`, userID, sourceID.String())
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *SamplesRepositoryImpl) ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.HealthSample, error) {
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}
	var out []model.HealthSample
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+sampleColumns+` FROM health_samples
		 WHERE user_id = ? AND sync_status != 'synced'
		 ORDER BY start_at ASC
	`, userID)
	return out, err
}

func (r *SamplesRepositoryImpl) CountBySource(ctx context.Context, userID int64) (map[model.SourceID]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT source_id, COUNT(*) AS n FROM health_samples WHERE user_id = ? GROUP BY source_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SourceID]int64, 3)
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return nil, err
		}
		counts[model.SourceID(src)] = n
	}
	return counts, rows.Err()
}
