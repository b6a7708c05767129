// Package tracker is the domain write path: every write of a synchronizable
// entity persists the row with sync_status=pending and creates exactly one
// outbox event in the same transaction.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/util"
)

type Service struct {
	db           *sqlx.DB
	events       repository.EventsRepository
	samples      repository.SamplesRepository
	workouts     repository.WorkoutsRepository
	measurements repository.MeasurementsRepository
	cursors      *repository.CursorStore
	log          *zap.Logger
}

func New(
	db *sqlx.DB,
	events repository.EventsRepository,
	samples repository.SamplesRepository,
	workouts repository.WorkoutsRepository,
	measurements repository.MeasurementsRepository,
	cursors *repository.CursorStore,
	log *zap.Logger,
) *Service {
	return &Service{
		db:           db,
		events:       events,
		samples:      samples,
		workouts:     workouts,
		measurements: measurements,
		cursors:      cursors,
		log:          log,
	}
}

// enqueue creates the outbox event for an entity, or refreshes the payload
// of an already-active one instead of inserting a duplicate.
func (s *Service) enqueue(ctx context.Context, tx *sqlx.Tx, userID int64, entityID string, kind model.EntityKind, isCreate bool, payload []byte) error {
	existing, err := s.events.GetByEntity(ctx, tx, entityID, kind)
	if err != nil {
		return fmt.Errorf("check active event: %w", err)
	}
	if existing != nil {
		return s.events.ReplacePayload(ctx, tx, existing.ID, isCreate, payload)
	}

	ev := &model.Event{
		ID:         util.New(),
		UserID:     userID,
		EntityID:   entityID,
		EntityKind: kind,
		IsCreate:   isCreate,
		Payload:    payload,
	}
	err = s.events.Insert(ctx, tx, ev)
	if errors.Is(err, repository.ErrDuplicateActiveEvent) {
		// lost a race with another writer; fold into the active record
		existing, gerr := s.events.GetByEntity(ctx, tx, entityID, kind)
		if gerr != nil {
			return gerr
		}
		if existing == nil {
			return err
		}
		return s.events.ReplacePayload(ctx, tx, existing.ID, isCreate, payload)
	}
	return err
}

// RecordMeasurement persists a new measurement and its relay event.
func (s *Service) RecordMeasurement(ctx context.Context, m model.Measurement) (string, error) {
	if m.ID == "" {
		m.ID = util.New()
	}
	m.SyncStatus = model.SyncPending

	payload, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal measurement: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.measurements.Insert(ctx, tx, &m); err != nil {
		return "", fmt.Errorf("insert measurement: %w", err)
	}
	if err := s.enqueue(ctx, tx, m.UserID, m.ID, model.KindMeasurement, true, payload); err != nil {
		return "", fmt.Errorf("enqueue measurement event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return m.ID, nil
}

// UpdateMeasurement edits an existing measurement. Whether the relay is an
// insert or an update depends on the remote counterpart existing, not on the
// local edit.
func (s *Service) UpdateMeasurement(ctx context.Context, m model.Measurement) error {
	cur, err := s.measurements.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("measurement %s not found", m.ID)
	}

	m.UserID = cur.UserID
	m.RemoteID = cur.RemoteID
	m.SyncStatus = model.SyncPending
	isCreate := cur.RemoteID == nil

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal measurement: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.measurements.Update(ctx, tx, &m); err != nil {
		return fmt.Errorf("update measurement: %w", err)
	}
	if err := s.enqueue(ctx, tx, m.UserID, m.ID, model.KindMeasurement, isCreate, payload); err != nil {
		return fmt.Errorf("enqueue measurement event: %w", err)
	}

	return tx.Commit()
}

// RecordWorkout persists a new workout and its relay event.
func (s *Service) RecordWorkout(ctx context.Context, w model.Workout) (string, error) {
	if w.ID == "" {
		w.ID = util.New()
	}
	w.SyncStatus = model.SyncPending

	payload, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal workout: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.workouts.Insert(ctx, tx, &w); err != nil {
		return "", fmt.Errorf("insert workout: %w", err)
	}
	if err := s.enqueue(ctx, tx, w.UserID, w.ID, model.KindWorkout, true, payload); err != nil {
		return "", fmt.Errorf("enqueue workout event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return w.ID, nil
}

// RecordSamples persists a batch of external-source samples, skipping any
// whose natural key already exists locally, and returns how many were
// actually new. Only new rows get an outbox event.
func (s *Service) RecordSamples(ctx context.Context, userID int64, samples []model.HealthSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	saved := 0
	touched := make(map[model.SourceID]struct{}, 2)
	for i := range samples {
		sm := &samples[i]
		sm.UserID = userID
		if sm.ID == "" {
			sm.ID = util.New()
		}

		inserted, err := s.samples.InsertIgnore(ctx, tx, sm)
		if err != nil {
			return 0, fmt.Errorf("insert sample: %w", err)
		}
		if !inserted {
			continue
		}

		payload, err := json.Marshal(sm)
		if err != nil {
			return 0, fmt.Errorf("marshal sample: %w", err)
		}
		if err := s.enqueue(ctx, tx, userID, sm.ID, model.KindSample, true, payload); err != nil {
			return 0, fmt.Errorf("enqueue sample event: %w", err)
		}
		saved++
		touched[sm.SourceID] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if s.cursors != nil {
		for src := range touched {
			s.cursors.Invalidate(ctx, userID, src)
		}
	}
	return saved, nil
}

// ResyncPending re-derives a fresh pending event for every entity that is
// not synced. Used only by the emergency reset path.
func (s *Service) ResyncPending(ctx context.Context, tx *sqlx.Tx, userID int64) (int, error) {
	n := 0

	ms, err := s.measurements.ListUnsynced(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	for i := range ms {
		payload, err := json.Marshal(&ms[i])
		if err != nil {
			return 0, err
		}
		if err := s.enqueue(ctx, tx, userID, ms[i].ID, model.KindMeasurement, ms[i].RemoteID == nil, payload); err != nil {
			return 0, err
		}
		n++
	}

	ws, err := s.workouts.ListUnsynced(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	for i := range ws {
		payload, err := json.Marshal(&ws[i])
		if err != nil {
			return 0, err
		}
		if err := s.enqueue(ctx, tx, userID, ws[i].ID, model.KindWorkout, ws[i].RemoteID == nil, payload); err != nil {
			return 0, err
		}
		n++
	}

	ss, err := s.samples.ListUnsynced(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	for i := range ss {
		payload, err := json.Marshal(&ss[i])
		if err != nil {
			return 0, err
		}
		if err := s.enqueue(ctx, tx, userID, ss[i].ID, model.KindSample, ss[i].RemoteID == nil, payload); err != nil {
			return 0, err
		}
		n++
	}

	return n, nil
}

// Reset is the emergency recovery path: drop every event for the user
// (regardless of status) and re-derive pending events from entity markers,
// restoring a known-clean registry. Never part of normal startup.
func (s *Service) Reset(ctx context.Context, userID int64) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.events.DeleteAllForUser(ctx, tx, userID); err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := s.ResyncPending(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("re-derive events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.log.Warn("emergency reset completed",
		zap.Int64("user_id", userID),
		zap.Int("rederived", n))
	return n, nil
}

// Snapshot is the operator-facing diagnostic view.
type Snapshot struct {
	UserID          int64                       `json:"user_id"`
	EventsByStatus  map[model.EventStatus]int64 `json:"events_by_status"`
	SamplesBySource map[model.SourceID]int64    `json:"samples_by_source"`
}

func (s *Service) Status(ctx context.Context, userID int64) (Snapshot, error) {
	byStatus, err := s.events.CountByStatus(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count events: %w", err)
	}
	bySource, err := s.samples.CountBySource(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count samples: %w", err)
	}
	return Snapshot{
		UserID:          userID,
		EventsByStatus:  byStatus,
		SamplesBySource: bySource,
	}, nil
}
