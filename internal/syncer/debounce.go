package syncer

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of external-source change notifications into a
// single delayed run: one pending slot with a cancellable timer. A new
// trigger while armed restarts the delay instead of queueing.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger arms (or re-arms) the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Stop cancels any armed trigger without running it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
