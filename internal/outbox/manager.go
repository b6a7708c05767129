package outbox

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager enforces the single-drainer rule: at most one processor runs
// against the store at a time. Starting a processor for a new user fully
// stops the previous one first.
type Manager struct {
	mu           sync.Mutex
	newProcessor func(userID int64) *Processor
	log          *zap.Logger

	active *running
}

type running struct {
	userID int64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(newProcessor func(userID int64) *Processor, log *zap.Logger) *Manager {
	return &Manager{newProcessor: newProcessor, log: log}
}

// Start launches a processor for userID, stopping and waiting out any
// currently-running processor before the new one touches the store.
func (m *Manager) Start(ctx context.Context, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	r := &running{userID: userID, cancel: cancel, done: make(chan struct{})}
	p := m.newProcessor(userID)

	go func() {
		defer close(r.done)
		if err := p.Run(runCtx); err != nil && runCtx.Err() == nil {
			m.log.Error("processor exited", zap.Int64("user_id", userID), zap.Error(err))
		}
	}()

	m.active = r
	m.log.Info("outbox processor started", zap.Int64("user_id", userID))
}

// Stop cancels the running processor and waits for its loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.active == nil {
		return
	}
	m.active.cancel()
	<-m.active.done
	m.log.Info("outbox processor stopped", zap.Int64("user_id", m.active.userID))
	m.active = nil
}

// Active returns the user id of the running processor, if any.
func (m *Manager) Active() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, false
	}
	return m.active.userID, true
}
