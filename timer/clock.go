package timer

import (
	"sync"
	"time"
)

// Clock abstracts the free-running time base behind the timer facility.
// Production code uses Real(); tests use a FakeClock so that cooperative
// busy-wait loops make deterministic progress.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by the system monotonic clock.
func Real() Clock { return realClock{} }

// FakeClock is a deterministic Clock. Every call to Now advances the clock by
// the configured step, which models the passage of time across one iteration
// of a polling loop. A zero step freezes time until Advance is called.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewFakeClock returns a FakeClock starting at start that advances by step on each read.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{current: start, step: step}
}

// Now returns the current fake time and then advances it by the step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Peek returns the current fake time without advancing it.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
