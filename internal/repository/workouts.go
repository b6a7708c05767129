package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

type WorkoutsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, w *model.Workout) error
	SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error
	SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error
	GetByID(ctx context.Context, id string) (*model.Workout, error)
	ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.Workout, error)
}

type WorkoutsRepositoryImpl struct {
	db *sqlx.DB
}

func NewWorkoutsRepository(db *sqlx.DB) *WorkoutsRepositoryImpl {
	return &WorkoutsRepositoryImpl{db: db}
}

var _ WorkoutsRepository = (*WorkoutsRepositoryImpl)(nil)

const workoutColumns = `id, user_id, name, started_at, ended_at, energy_kcal, source,
	sync_status, remote_id, created_at, updated_at`

func (r *WorkoutsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *WorkoutsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, w *model.Workout) error {
	now := time.Now().UTC()
	if w.SyncStatus == "" {
		w.SyncStatus = model.SyncPending
	}
	if w.Source == "" {
		w.Source = "manual"
	}
	const q = `
		INSERT INTO workouts
		    (id, user_id, name, started_at, ended_at, energy_kcal, source, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			w.ID, w.UserID, w.Name, w.StartedAt.UTC(), w.EndedAt.UTC(),
			w.EnergyKcal, w.Source, w.SyncStatus.String(), now, now,
		)
		return err
	})
}

func (r *WorkoutsRepositoryImpl) SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE workouts
			   SET sync_status = 'synced', remote_id = ?, updated_at = ?
			 WHERE id = ?
		`, remoteID, time.Now().UTC(), id)
		return err
	})
}

func (r *WorkoutsRepositoryImpl) SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workouts SET sync_status = ?, updated_at = ? WHERE id = ?
	`, st.String(), time.Now().UTC(), id)
	return err
}

func (r *WorkoutsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Workout, error) {
	var w model.Workout
	err := r.db.GetContext(ctx, &w, `
		SELECT `+workoutColumns+` FROM workouts WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WorkoutsRepositoryImpl) ListUnsynced(ctx context.Context, tx *sqlx.Tx, userID int64) ([]model.Workout, error) {
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}
	var out []model.Workout
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+workoutColumns+` FROM workouts
		 WHERE user_id = ? AND sync_status != 'synced'
		 ORDER BY started_at ASC
	`, userID)
	return out, err
}
