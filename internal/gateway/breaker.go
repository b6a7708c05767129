package gateway

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// MicroBreaker keeps the relay loop from hammering an unreachable backend:
// after threshold consecutive failures it opens for a cooldown, then admits
// a single probe. A good probe closes it, a bad one re-opens it.
type MicroBreaker struct {
	mu        sync.Mutex
	state     breakerState
	fails     int
	threshold int
	cooldown  time.Duration
	reopenAt  time.Time
	probing   bool
}

func NewMicroBreaker(threshold int, cooldown time.Duration) *MicroBreaker {
	return &MicroBreaker{threshold: threshold, cooldown: cooldown}
}

// TryAcquire reports whether a call may go out right now. While open it
// admits nothing until the cooldown passes, then exactly one probe.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.probing || time.Now().Before(b.reopenAt) {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.fails = 0
	b.probing = false
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		// failed probe: straight back to open
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.cooldown)
		b.probing = false
		return
	}

	b.fails++
	if b.fails >= b.threshold {
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.cooldown)
	}
}
