package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

type ProfilesRepository interface {
	Get(ctx context.Context, userID int64) (*model.Profile, error)
	// Upsert replaces the local copy wholesale; the reconciler's merge
	// output is the only writer after session start.
	Upsert(ctx context.Context, p *model.Profile) error
}

type ProfilesRepositoryImpl struct {
	db *sqlx.DB
}

func NewProfilesRepository(db *sqlx.DB) *ProfilesRepositoryImpl {
	return &ProfilesRepositoryImpl{db: db}
}

var _ ProfilesRepository = (*ProfilesRepositoryImpl)(nil)

func (r *ProfilesRepositoryImpl) Get(ctx context.Context, userID int64) (*model.Profile, error) {
	var p model.Profile
	err := r.db.GetContext(ctx, &p, `
		SELECT user_id, remote_id, display_name, biography, date_of_birth,
		       height_cm, weight_kg, updated_at
		  FROM profiles
		 WHERE user_id = ? LIMIT 1
	`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfilesRepositoryImpl) Upsert(ctx context.Context, p *model.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	var dob *time.Time
	if p.DateOfBirth != nil {
		u := p.DateOfBirth.UTC()
		dob = &u
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles
		    (user_id, remote_id, display_name, biography, date_of_birth, height_cm, weight_kg, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    remote_id     = excluded.remote_id,
		    display_name  = excluded.display_name,
		    biography     = excluded.biography,
		    date_of_birth = excluded.date_of_birth,
		    height_cm     = excluded.height_cm,
		    weight_kg     = excluded.weight_kg,
		    updated_at    = excluded.updated_at
	`, p.UserID, p.RemoteID, p.DisplayName, p.Biography, dob, p.HeightCm, p.WeightKg, p.UpdatedAt.UTC())
	return err
}
