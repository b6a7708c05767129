package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

var (
	// ErrDuplicateActiveEvent means a non-completed event already exists for
	// the same (entity_id, entity_kind). Callers must check-or-replace.
	ErrDuplicateActiveEvent = errors.New("active event already exists for entity")

	// ErrAlreadyClaimed means another claimant won the compare-and-swap on
	// status. Not an error condition for the loser; skip the event this cycle.
	ErrAlreadyClaimed = errors.New("event already claimed")
)

const eventColumns = `id, user_id, entity_id, entity_kind, is_create, payload, status,
	attempts, priority, next_eligible_at, last_error, created_at, updated_at`

// EventsRepository is the durable Event Store backing the outbox.
type EventsRepository interface {
	// Insert writes a new pending event. If tx is nil it opens/commits an
	// internal transaction. Fails with ErrDuplicateActiveEvent when an
	// active record exists for the same entity.
	Insert(ctx context.Context, tx *sqlx.Tx, ev *model.Event) error
	// ReplacePayload refreshes an active event in place instead of
	// inserting a duplicate.
	ReplacePayload(ctx context.Context, tx *sqlx.Tx, id string, isCreate bool, payload []byte) error
	// GetByEntity returns the active (non-completed) event for an entity,
	// or nil when there is none. Pass the enclosing tx when called inside a
	// transaction: the store runs on a single-writer connection.
	GetByEntity(ctx context.Context, tx *sqlx.Tx, entityID string, kind model.EntityKind) (*model.Event, error)

	// FetchPending returns eligible pending events, lowest priority first,
	// then FIFO by creation time, capped at limit.
	FetchPending(ctx context.Context, userID int64, now time.Time, limit int) ([]model.Event, error)

	// MarkProcessing claims an event via CAS on status. A losing claimant
	// gets ErrAlreadyClaimed.
	MarkProcessing(ctx context.Context, id string, now time.Time) error
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	// MarkFailed is terminal; the event stays for operator inspection.
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) error
	// RetryLater increments attempts and re-pends the event, eligible again
	// at nextAt.
	RetryLater(ctx context.Context, id string, nextAt, now time.Time) error

	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	// DeleteCompletedBefore is the safety-net sweep. Immediate deletion on
	// relay success should leave it nothing to do; a nonzero count is an
	// anomaly signal.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteAllForUser is the administrative reset path.
	DeleteAllForUser(ctx context.Context, tx *sqlx.Tx, userID int64) error
	// ReclaimStale re-pends processing events older than the grace cutoff,
	// covering a crash mid-processing.
	ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error)

	CountByStatus(ctx context.Context, userID int64) (map[model.EventStatus]int64, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.Event) error {
	now := time.Now().UTC()
	if ev.Status == "" {
		ev.Status = model.EventStatusPending
	}
	if ev.NextEligibleAt.IsZero() {
		ev.NextEligibleAt = now
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	const q = `
		INSERT INTO outbox_events
		    (id, user_id, entity_id, entity_kind, is_create, payload, status,
		     attempts, priority, next_eligible_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ev.ID, ev.UserID, ev.EntityID, ev.EntityKind.String(), ev.IsCreate, ev.Payload,
			ev.Status.String(), ev.Attempts, ev.Priority,
			ev.NextEligibleAt.UTC(), ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
		)
		return err
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateActiveEvent
	}
	return err
}

func (r *EventsRepositoryImpl) ReplacePayload(ctx context.Context, tx *sqlx.Tx, id string, isCreate bool, payload []byte) error {
	const q = `
		UPDATE outbox_events
		   SET is_create = ?, payload = ?, updated_at = ?
		 WHERE id = ? AND status != 'completed'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, isCreate, payload, time.Now().UTC(), id)
		return err
	})
}

func (r *EventsRepositoryImpl) GetByEntity(ctx context.Context, tx *sqlx.Tx, entityID string, kind model.EntityKind) (*model.Event, error) {
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}
	var ev model.Event
	err := sqlx.GetContext(ctx, q, &ev, `
		SELECT `+eventColumns+`
		  FROM outbox_events
		 WHERE entity_id = ? AND entity_kind = ? AND status != 'completed'
		 LIMIT 1
	`, entityID, kind.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *EventsRepositoryImpl) FetchPending(ctx context.Context, userID int64, now time.Time, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	var evs []model.Event
	err := r.db.SelectContext(ctx, &evs, `
		SELECT `+eventColumns+`
		  FROM outbox_events
		 WHERE user_id = ? AND status = 'pending' AND next_eligible_at <= ?
		 ORDER BY priority ASC, created_at ASC, id ASC
		 LIMIT ?
	`, userID, now.UTC(), limit)
	return evs, err
}

func (r *EventsRepositoryImpl) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'pending'
	`, now.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

func (r *EventsRepositoryImpl) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'completed', updated_at = ?
		 WHERE id = ?
	`, now.UTC(), id)
	return err
}

func (r *EventsRepositoryImpl) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ?
	`, reason, now.UTC(), id)
	return err
}

func (r *EventsRepositoryImpl) RetryLater(ctx context.Context, id string, nextAt, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = 'pending', attempts = attempts + 1, next_eligible_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'
	`, nextAt.UTC(), now.UTC(), id)
	return err
}

func (r *EventsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = ?`, id)
		return err
	})
}

func (r *EventsRepositoryImpl) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events WHERE status = 'completed' AND updated_at <= ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EventsRepositoryImpl) DeleteAllForUser(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE user_id = ?`, userID)
		return err
	})
}

func (r *EventsRepositoryImpl) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = 'pending', updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?
	`, now.UTC(), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EventsRepositoryImpl) CountByStatus(ctx context.Context, userID int64) (map[model.EventStatus]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) AS n FROM outbox_events WHERE user_id = ? GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.EventStatus]int64, 4)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[model.EventStatus(st)] = n
	}
	return counts, rows.Err()
}
