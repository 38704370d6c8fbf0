package client

import (
	"sync"
	"time"
)

// DefaultDebounce is the pause after the last keystroke before a search runs.
const DefaultDebounce = 200 * time.Millisecond

// Debouncer runs the most recent submitted function once input has been
// quiet for the configured delay.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	running sync.WaitGroup
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Submit replaces any pending function with fn.
func (d *Debouncer) Submit(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = fn
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Stop drops the pending function, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Flush runs the pending function now instead of waiting for the delay and
// returns once every started function has finished.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.take()
	d.mu.Unlock()

	if fn != nil {
		fn()
		d.running.Done()
	}
	d.running.Wait()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.take()
	d.mu.Unlock()
	if fn == nil {
		return
	}
	defer d.running.Done()
	fn()
}

// take claims the pending function. Callers hold d.mu.
func (d *Debouncer) take() func() {
	fn := d.pending
	d.pending = nil
	if fn != nil {
		d.running.Add(1)
	}
	return fn
}
