package outbox

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

// RelayHandler relays events of one entity kind. New kinds register a
// handler; the processor itself stays generic.
type RelayHandler interface {
	Kind() model.EntityKind

	// Relay sends the event payload to the backend and returns the
	// backend-assigned (or confirmed) remote id.
	Relay(ctx context.Context, ev model.Event) (string, error)

	// Apply persists the relay outcome on the domain entity: remote id and
	// sync_status=synced. Runs in the same transaction that deletes the
	// event row.
	Apply(ctx context.Context, tx *sqlx.Tx, ev model.Event, remoteID string) error

	// MarkEntityFailed flips the entity marker once the event is exhausted
	// or permanently rejected.
	MarkEntityFailed(ctx context.Context, ev model.Event) error
}

// Registry maps entity kinds to their relay handlers.
type Registry struct {
	handlers map[model.EntityKind]RelayHandler
}

func NewRegistry(hs ...RelayHandler) *Registry {
	r := &Registry{handlers: make(map[model.EntityKind]RelayHandler, len(hs))}
	for _, h := range hs {
		r.handlers[h.Kind()] = h
	}
	return r
}

func (r *Registry) Register(h RelayHandler) {
	r.handlers[h.Kind()] = h
}

func (r *Registry) Lookup(k model.EntityKind) (RelayHandler, bool) {
	h, ok := r.handlers[k]
	return h, ok
}
