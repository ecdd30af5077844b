package storage

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/docstore/internal/document"
)

// Clock yields last-write-times in milliseconds.
type Clock interface {
	// Now returns a time strictly greater than every earlier result and at
	// least document.LWTMinimum.
	Now() float64
}

// lwtStep is the smallest lwt increment; it matches the multipleOf
// constraint on _meta.lwt.
const lwtStep = 0.01

// MonotonicClock is the wall clock in milliseconds, bumped by 0.01ms when
// needed so that results strictly increase. Safe for concurrent use.
type MonotonicClock struct {
	mu   sync.Mutex
	last float64
	wall func() time.Time
}

// NewMonotonicClock returns a clock reading time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{wall: time.Now}
}

// Now implements Clock.
func (c *MonotonicClock) Now() float64 {
	now := float64(c.wall().UnixMilli())

	c.mu.Lock()
	defer c.mu.Unlock()
	if now < document.LWTMinimum {
		now = document.LWTMinimum
	}
	if now <= c.last {
		now = roundLWT(c.last + lwtStep)
	}
	c.last = now
	return now
}

func roundLWT(v float64) float64 {
	return math.Round(v*100) / 100
}

var processClock = NewMonotonicClock()

// ProcessClock returns the clock shared by every instance of this process
// that was not given its own.
func ProcessClock() Clock {
	return processClock
}

// IDGenerator creates unique identifiers for event bulks.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates random UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Sequence is a thread-safe counter. Instances take their numeric id from
// one so log lines and multi-instance routing can tell siblings apart.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next value, starting at 1.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

var instanceSequence = &Sequence{}
