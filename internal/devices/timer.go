// Package devices implements the concrete peripherals spec.md §6.5/§6.6
// describes: the processor and interval timers, terminal, printer, disk and
// flash. The register-level shape (Start/Stop/Reset + STATUS/COMMAND) is
// grounded on the teacher's amd64/chipset PIT and amd64/serial UART: a
// functional-options constructor over an injectable clock, so tests can
// drive virtual time instead of wall time.
package devices

import (
	"sync"
	"time"
)

// ProcessorTimer models the per-CPU timer the scheduler arms to the
// round-robin quantum (spec.md §4.3) and the interrupt handler's line-1
// case reads (spec.md §4.4.1). It is edge-triggered: arming it cancels any
// previous deadline.
type ProcessorTimer struct {
	mu       sync.Mutex
	now      func() time.Time
	deadline time.Time
	armed    bool
}

// TimerOption customises a timer's time source, mainly for tests.
type TimerOption func(*ProcessorTimer)

// WithClock overrides the time source used to evaluate deadlines.
func WithClock(now func() time.Time) TimerOption {
	return func(t *ProcessorTimer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewProcessorTimer returns a disarmed processor timer.
func NewProcessorTimer(opts ...TimerOption) *ProcessorTimer {
	t := &ProcessorTimer{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Arm schedules the timer to fire after d, as the scheduler does on every
// dispatch (spec.md §4.3 step 3).
func (t *ProcessorTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = t.now().Add(d)
	t.armed = true
}

// Disarm stops the timer, as the scheduler does before waiting for an
// interrupt with no ready process (spec.md §4.3 step 2).
func (t *ProcessorTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
}

// Fired reports whether the armed deadline has passed by wall/virtual time
// now(). It does not clear the armed flag — Disarm or a fresh Arm does.
func (t *ProcessorTimer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && !t.now().Before(t.deadline)
}

// IntervalTimer models the pseudo-clock source: a periodic 100ms tick that
// the interrupt handler's line-2 case reloads and reacts to by releasing
// every process blocked on the pseudo-clock semaphore (spec.md §4.4.1).
type IntervalTimer struct {
	mu       sync.Mutex
	now      func() time.Time
	period   time.Duration
	deadline time.Time
}

// NewIntervalTimer returns an interval timer with the given tick period,
// already armed for one period from now.
func NewIntervalTimer(period time.Duration, opts ...TimerOption) *IntervalTimer {
	p := &ProcessorTimer{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	it := &IntervalTimer{now: p.now, period: period}
	it.Reload()
	return it
}

// Reload re-arms the timer for one more period from now, as the line-2
// interrupt handler does immediately after acking the tick.
func (it *IntervalTimer) Reload() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.deadline = it.now().Add(it.period)
}

// Fired reports whether the current period has elapsed.
func (it *IntervalTimer) Fired() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.now().Before(it.deadline)
}
