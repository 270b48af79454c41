package client

import (
	"sync"
	"time"
)

type stopper interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) stopper

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Debouncer runs the last triggered function once no new trigger arrived for
// the delay.
type Debouncer struct {
	delay    time.Duration
	schedule scheduleFunc

	mu      sync.Mutex
	pending stopper
	gen     uint64
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, schedule: afterFunc}
}

func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = d.schedule(d.delay, func() {
		d.mu.Lock()
		current := gen == d.gen
		if current {
			d.pending = nil
		}
		d.mu.Unlock()
		// A timer that already fired cannot be stopped; the generation check
		// drops it instead.
		if current {
			f()
		}
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.gen++
}
