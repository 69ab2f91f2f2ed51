// Package countdown implements the exam timer.
package countdown

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
)

// TickInterval is how often Run re-reads the clock.
const TickInterval = time.Second

// Timer counts down to a fixed wall-clock deadline and calls onExpire once.
// Remaining time is derived from the deadline on every tick, so missed ticks
// (a suspended process, a slow render) never cause drift.
type Timer struct {
	clock    clock.Clock
	deadline time.Time
	onExpire func()

	mu        sync.Mutex
	remaining int
	expired   bool
	done      chan struct{}
}

// New starts a timer that runs for duration from the clock's current time.
func New(clk clock.Clock, duration time.Duration, onExpire func()) *Timer {
	return NewUntil(clk, clk.Now().Add(duration), onExpire)
}

// NewUntil starts a timer that expires at deadline. A deadline already in the
// past leaves zero seconds and expires on the first tick.
func NewUntil(clk clock.Clock, deadline time.Time, onExpire func()) *Timer {
	t := &Timer{
		clock:    clk,
		deadline: deadline,
		onExpire: onExpire,
		done:     make(chan struct{}),
	}
	t.remaining = secondsUntil(clk.Now(), deadline)
	return t
}

func secondsUntil(now, deadline time.Time) int {
	left := deadline.Sub(now).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left))
}

// Remaining returns the whole seconds left, as of the last tick.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Deadline returns the instant the timer expires.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Expired reports whether onExpire has been called.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Done is closed after the timer expires.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Tick re-reads the clock. The first tick that observes zero seconds left
// fires onExpire; every later tick is a no-op.
func (t *Timer) Tick() {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return
	}
	if left := secondsUntil(t.clock.Now(), t.deadline); left < t.remaining {
		t.remaining = left
	}
	if t.remaining > 0 {
		t.mu.Unlock()
		return
	}
	t.expired = true
	close(t.done)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
}

// Run ticks once per TickInterval until the timer expires or ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}
