package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/gateway"
	"github.com/lumehealth/lume-sync/internal/metrics"
	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
)

type Config struct {
	PollInterval    time.Duration // sub-5s class, keeps relay latency low
	CleanupInterval time.Duration // minutes-scale safety net
	BatchSize       int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ClaimGrace      time.Duration // processing older than this is reclaimable
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.ClaimGrace <= 0 {
		c.ClaimGrace = 2 * time.Minute
	}
}

// Processor drains the Event Store to the Remote Gateway for one user with
// at-least-once semantics: poll, claim, relay, delete on success, retry with
// backoff on transient failure. A cleanup loop runs alongside as a safety
// net against completed rows left behind by a crash.
type Processor struct {
	db       *sqlx.DB
	events   repository.EventsRepository
	registry *Registry
	cfg      Config
	log      *zap.Logger
	userID   int64
}

func NewProcessor(
	db *sqlx.DB,
	events repository.EventsRepository,
	registry *Registry,
	cfg Config,
	log *zap.Logger,
	userID int64,
) *Processor {
	cfg.applyDefaults()
	return &Processor{
		db:       db,
		events:   events,
		registry: registry,
		cfg:      cfg,
		log:      log.With(zap.Int64("user_id", userID)),
		userID:   userID,
	}
}

// Run blocks until ctx is cancelled. In-flight relays finish before it
// returns; anything still processing afterwards is covered by ReclaimStale
// on the next start.
func (p *Processor) Run(ctx context.Context) error {
	// recover events stranded in processing by a previous crash
	if n, err := p.events.ReclaimStale(ctx, time.Now().Add(-p.cfg.ClaimGrace), time.Now()); err != nil {
		p.log.Warn("reclaim stale on start failed", zap.Error(err))
	} else if n > 0 {
		p.log.Info("reclaimed stale processing events", zap.Int64("count", n))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runCleanup(ctx)
	}()

	tick := time.NewTicker(p.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-tick.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce fetches one batch and fans out. Dispatch is concurrent across
// distinct events; a single event is never dispatched twice thanks to the
// MarkProcessing CAS.
func (p *Processor) drainOnce(ctx context.Context) {
	evs, err := p.events.FetchPending(ctx, p.userID, time.Now(), p.cfg.BatchSize)
	if err != nil {
		p.log.Error("fetch pending failed", zap.Error(err))
		return
	}
	if len(evs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ev := range evs {
		wg.Add(1)
		go func(ev model.Event) {
			defer wg.Done()
			p.processOne(ctx, ev)
		}(ev)
	}
	wg.Wait()
}

func (p *Processor) processOne(ctx context.Context, ev model.Event) {
	if err := p.events.MarkProcessing(ctx, ev.ID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrAlreadyClaimed) {
			// lost the claim race; someone else has it this cycle
			return
		}
		p.log.Error("claim failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	h, ok := p.registry.Lookup(ev.EntityKind)
	if !ok {
		p.log.Error("no relay handler for kind", zap.String("kind", ev.EntityKind.String()))
		p.failEvent(ctx, ev, nil, "no relay handler for kind "+ev.EntityKind.String())
		return
	}

	remoteID, err := h.Relay(ctx, ev)
	if err == nil {
		p.completeEvent(ctx, ev, h, remoteID)
		return
	}

	// store writes after a cancelled relay must still land, otherwise the
	// event is stranded in processing until the grace period
	stCtx := context.WithoutCancel(ctx)

	if gateway.IsRetryable(err) {
		attempt := ev.Attempts + 1
		if attempt < p.cfg.MaxAttempts {
			next := time.Now().Add(Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, attempt))
			if rerr := p.events.RetryLater(stCtx, ev.ID, next, time.Now()); rerr != nil {
				p.log.Error("retry scheduling failed", zap.String("event_id", ev.ID), zap.Error(rerr))
				return
			}
			metrics.RelayTotal.WithLabelValues("retry", ev.EntityKind.String()).Inc()
			p.log.Warn("relay failed, will retry",
				zap.String("event_id", ev.ID),
				zap.Int("attempt", attempt),
				zap.Time("next_eligible_at", next),
				zap.Error(err))
			return
		}
		p.failEvent(stCtx, ev, h, err.Error())
		return
	}

	// permanent: no retry
	p.failEvent(stCtx, ev, h, err.Error())
}

// completeEvent applies the outcome to the entity and deletes the event row
// in one transaction. Immediate deletion is the primary anti-growth
// mechanism; the cleanup sweep only exists for the crash window.
func (p *Processor) completeEvent(ctx context.Context, ev model.Event, h RelayHandler, remoteID string) {
	stCtx := context.WithoutCancel(ctx)

	tx, err := p.db.BeginTxx(stCtx, nil)
	if err != nil {
		p.log.Error("begin tx failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := h.Apply(stCtx, tx, ev, remoteID); err != nil {
		p.log.Error("apply relay outcome failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if err := p.events.Delete(stCtx, tx, ev.ID); err != nil {
		p.log.Error("event delete failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		p.log.Error("commit failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	metrics.RelayTotal.WithLabelValues("success", ev.EntityKind.String()).Inc()
	p.log.Debug("event relayed",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("remote_id", remoteID))
}

func (p *Processor) failEvent(ctx context.Context, ev model.Event, h RelayHandler, reason string) {
	if err := p.events.MarkFailed(ctx, ev.ID, reason, time.Now()); err != nil {
		p.log.Error("mark failed failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if h != nil {
		if err := h.MarkEntityFailed(ctx, ev); err != nil {
			p.log.Warn("entity marker update failed", zap.String("entity_id", ev.EntityID), zap.Error(err))
		}
	}
	metrics.RelayTotal.WithLabelValues("failed", ev.EntityKind.String()).Inc()
	p.log.Error("event failed terminally",
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.Int("attempts", ev.Attempts+1),
		zap.String("reason", reason))
}

// runCleanup deletes any completed rows regardless of age. Step 4 of the
// relay path deletes on success, so anything found here means the process
// died between success and deletion; log it as an anomaly, not routine.
func (p *Processor) runCleanup(ctx context.Context) {
	tick := time.NewTicker(p.cfg.CleanupInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := p.events.DeleteCompletedBefore(ctx, time.Now())
			if err != nil {
				p.log.Error("cleanup sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.CleanupOrphansTotal.Add(float64(n))
				p.log.Warn("cleanup sweep removed completed events; immediate delete did not run",
					zap.Int64("count", n))
			}

			if rn, err := p.events.ReclaimStale(ctx, time.Now().Add(-p.cfg.ClaimGrace), time.Now()); err != nil {
				p.log.Error("reclaim stale failed", zap.Error(err))
			} else if rn > 0 {
				p.log.Warn("reclaimed stale processing events", zap.Int64("count", rn))
			}
		}
	}
}
