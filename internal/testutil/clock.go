package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe millisecond clock for tests.
//
// Each call to Now advances it by one millisecond, so successive writes get
// predictable last-write-times. Advance moves it forward explicitly, which
// is how tests age tombstones for cleanup.
type DeterministicClock struct {
	mu    sync.Mutex
	start float64
	now   float64
}

// NewDeterministicClock creates a clock whose first Now returns start+1.
func NewDeterministicClock(start float64) *DeterministicClock {
	return &DeterministicClock{start: start, now: start}
}

// Now advances the clock by one millisecond and returns it.
func (c *DeterministicClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Current returns the last value without advancing.
func (c *DeterministicClock) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += float64(d.Milliseconds())
}

// Reset returns the clock to its start value.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
