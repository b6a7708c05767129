package model

import "time"

// Profile is the user's profile aggregate. Two provenance copies (local and
// remote) may exist and are merged once per session start; the merged result
// replaces the local row, it is never stored as a third copy.
type Profile struct {
	UserID      int64      `db:"user_id" json:"user_id"`
	RemoteID    *string    `db:"remote_id" json:"remote_id,omitempty"` // server-managed, remote always wins
	DisplayName string     `db:"display_name" json:"display_name"`
	Biography   *string    `db:"biography" json:"biography,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	HeightCm    *float64   `db:"height_cm" json:"height_cm,omitempty"`
	WeightKg    *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
