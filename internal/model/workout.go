package model

import "time"

// Workout is a logged exercise session.
type Workout struct {
	ID         string     `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	Name       string     `db:"name" json:"name"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	EndedAt    time.Time  `db:"ended_at" json:"ended_at"`
	EnergyKcal float64    `db:"energy_kcal" json:"energy_kcal"`
	Source     string     `db:"source" json:"source"` // "manual" or an external source id
	SyncStatus SyncStatus `db:"sync_status" json:"-"`
	RemoteID   *string    `db:"remote_id" json:"remote_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"-"`
	UpdatedAt  time.Time  `db:"updated_at" json:"-"`
}
