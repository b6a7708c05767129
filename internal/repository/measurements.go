package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

type MeasurementsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, m *model.Measurement) error
	Update(ctx context.Context, tx *sqlx.Tx, m *model.Measurement) error
	SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error
	SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error
	GetByID(ctx context.Context, id string) (*model.Measurement, error)
	ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.Measurement, error)
}

type MeasurementsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMeasurementsRepository(db *sqlx.DB) *MeasurementsRepositoryImpl {
	return &MeasurementsRepositoryImpl{db: db}
}

var _ MeasurementsRepository = (*MeasurementsRepositoryImpl)(nil)

const measurementColumns = `id, user_id, metric, value, unit, recorded_at, note,
	sync_status, remote_id, created_at, updated_at`

func (r *MeasurementsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *MeasurementsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, m *model.Measurement) error {
	now := time.Now().UTC()
	if m.SyncStatus == "" {
		m.SyncStatus = model.SyncPending
	}
	const q = `
		INSERT INTO measurements
		    (id, user_id, metric, value, unit, recorded_at, note, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.UserID, m.Metric, m.Value, m.Unit, m.RecordedAt.UTC(), m.Note,
			m.SyncStatus.String(), now, now,
		)
		return err
	})
}

func (r *MeasurementsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, m *model.Measurement) error {
	const q = `
		UPDATE measurements
		   SET metric = ?, value = ?, unit = ?, recorded_at = ?, note = ?,
		       sync_status = ?, updated_at = ?
		 WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.Metric, m.Value, m.Unit, m.RecordedAt.UTC(), m.Note,
			m.SyncStatus.String(), time.Now().UTC(), m.ID,
		)
		return err
	})
}

func (r *MeasurementsRepositoryImpl) SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE measurements
			   SET sync_status = 'synced', remote_id = ?, updated_at = ?
			 WHERE id = ?
		`, remoteID, time.Now().UTC(), id)
		return err
	})
}

func (r *MeasurementsRepositoryImpl) SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE measurements SET sync_status = ?, updated_at = ? WHERE id = ?
	`, st.String(), time.Now().UTC(), id)
	return err
}

func (r *MeasurementsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Measurement, error) {
	var m model.Measurement
	err := r.db.GetContext(ctx, &m, `
		SELECT `+measurementColumns+` FROM measurements WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MeasurementsRepositoryImpl) ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.Measurement, error) {
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}
	var out []model.Measurement
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+measurementColumns+` FROM measurements
		 WHERE user_id = ? AND sync_status != 'synced'
		 ORDER BY recorded_at ASC
	`, userID)
	return out, err
}
