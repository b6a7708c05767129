package model

import "time"

// Measurement is a user-entered body metric (weight, waist, body fat...).
type Measurement struct {
	ID         string     `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	Metric     string     `db:"metric" json:"metric"` // e.g. "weight", "body_fat"
	Value      float64    `db:"value" json:"value"`
	Unit       string     `db:"unit" json:"unit"`
	RecordedAt time.Time  `db:"recorded_at" json:"recorded_at"`
	Note       *string    `db:"note" json:"note,omitempty"`
	SyncStatus SyncStatus `db:"sync_status" json:"-"`
	RemoteID   *string    `db:"remote_id" json:"remote_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"-"`
	UpdatedAt  time.Time  `db:"updated_at" json:"-"`
}
