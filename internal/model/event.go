package model

import "time"

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

func (s EventStatus) String() string {
	return string(s)
}

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusProcessing, EventStatusCompleted, EventStatusFailed:
		return true
	}
	return false
}

type EntityKind string

const (
	KindMeasurement EntityKind = "measurement"
	KindWorkout     EntityKind = "workout"
	KindSample      EntityKind = "sample"
)

func (k EntityKind) String() string { return string(k) }

func (k EntityKind) Valid() bool {
	return k == KindMeasurement || k == KindWorkout || k == KindSample
}

// Event is one durable pending change awaiting relay to the backend.
// At most one non-completed event exists per (entity_id, entity_kind);
// the partial unique index in the schema enforces it.
type Event struct {
	ID             string      `db:"id"`
	UserID         int64       `db:"user_id"`
	EntityID       string      `db:"entity_id"`
	EntityKind     EntityKind  `db:"entity_kind"`
	IsCreate       bool        `db:"is_create"`
	Payload        []byte      `db:"payload"` // kind-specific JSON summary, enough to build the request without re-reading the entity
	Status         EventStatus `db:"status"`
	Attempts       int         `db:"attempts"`
	Priority       int         `db:"priority"` // lower sorts first; 0 everywhere today
	NextEligibleAt time.Time   `db:"next_eligible_at"`
	LastError      *string     `db:"last_error"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}
