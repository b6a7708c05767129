package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/gateway"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/outbox"
)

// entityMarker is the slice of a repository a relay handler needs: flip the
// sync marker and record the remote id.
type entityMarker interface {
	SetSynced(ctx context.Context, tx *sqlx.Tx, id, remoteID string) error
	SetSyncStatus(ctx context.Context, id string, st model.SyncStatus) error
}

// kindRelay relays one entity kind to its backend collection. The event
// payload is self-contained, so relaying never re-reads the entity row.
type kindRelay struct {
	kind       model.EntityKind
	collection string
	gw         gateway.Gateway
	marker     entityMarker
	log        *zap.Logger
}

var _ outbox.RelayHandler = (*kindRelay)(nil)

func (k *kindRelay) Kind() model.EntityKind { return k.kind }

func (k *kindRelay) Relay(ctx context.Context, ev model.Event) (string, error) {
	// best-effort; the marker is cosmetic until the outcome lands
	if err := k.marker.SetSyncStatus(ctx, ev.EntityID, model.SyncSyncing); err != nil {
		k.log.Debug("syncing marker update failed", zap.String("entity_id", ev.EntityID), zap.Error(err))
	}

	if ev.IsCreate {
		return k.gw.Create(ctx, k.collection, ev.Payload)
	}

	remoteID, err := remoteIDFromPayload(ev.Payload)
	if err != nil {
		return "", err
	}
	if err := k.gw.Update(ctx, k.collection, remoteID, ev.Payload); err != nil {
		return "", err
	}
	return remoteID, nil
}

func (k *kindRelay) Apply(ctx context.Context, tx *sqlx.Tx, ev model.Event, remoteID string) error {
	return k.marker.SetSynced(ctx, tx, ev.EntityID, remoteID)
}

func (k *kindRelay) MarkEntityFailed(ctx context.Context, ev model.Event) error {
	return k.marker.SetSyncStatus(ctx, ev.EntityID, model.SyncFailed)
}

func remoteIDFromPayload(payload []byte) (string, error) {
	var p struct {
		RemoteID *string `json:"remote_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if p.RemoteID == nil || *p.RemoteID == "" {
		return "", fmt.Errorf("update event without remote id")
	}
	return *p.RemoteID, nil
}

// RelayHandlers builds the dispatch table for the outbox processor. New
// entity kinds register here instead of changing the processor.
func (s *Service) RelayHandlers(gw gateway.Gateway) []outbox.RelayHandler {
	return []outbox.RelayHandler{
		&kindRelay{kind: model.KindMeasurement, collection: "measurements", gw: gw, marker: s.measurements, log: s.log},
		&kindRelay{kind: model.KindWorkout, collection: "workouts", gw: gw, marker: s.workouts, log: s.log},
		&kindRelay{kind: model.KindSample, collection: "samples", gw: gw, marker: s.samples, log: s.log},
	}
}
