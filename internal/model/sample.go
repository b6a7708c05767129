package model

import (
	"strings"
	"time"
)

type SourceID string

const (
	SourceSteps     SourceID = "steps"
	SourceHeartRate SourceID = "heart_rate"
	SourceSleep     SourceID = "sleep"
)

func (s SourceID) String() string { return string(s) }

// ParseSourceID normalizes input. Returns (value, true) if known.
func ParseSourceID(s string) (SourceID, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "steps":
		return SourceSteps, true
	case "heart_rate", "heartrate":
		return SourceHeartRate, true
	case "sleep":
		return SourceSleep, true
	default:
		return "", false
	}
}

// HealthSample is one normalized record pulled from an external data source.
// Point samples (steps, heart rate) have StartAt == EndAt; session samples
// (sleep) span [StartAt, EndAt]. The natural key (user_id, source_id,
// start_at) drives duplicate detection on write.
type HealthSample struct {
	ID         string     `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	SourceID   SourceID   `db:"source_id" json:"source_id"`
	StartAt    time.Time  `db:"start_at" json:"start_at"`
	EndAt      time.Time  `db:"end_at" json:"end_at"`
	Value      float64    `db:"value" json:"value"`
	Unit       string     `db:"unit" json:"unit"`
	SyncStatus SyncStatus `db:"sync_status" json:"-"`
	RemoteID   *string    `db:"remote_id" json:"remote_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"-"`
	UpdatedAt  time.Time  `db:"updated_at" json:"-"`
}
