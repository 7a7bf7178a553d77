package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock stamping event-log records.
//
// Sequence numbers give a total order over records that does not depend on
// wall time, so two records written in the same millisecond still sort.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations). The
// evaluation step and the dispatch worker both append records.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// WallClock supplies wall time for cooldown windows and record timestamps.
// Tests substitute a manually advanced clock.
type WallClock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real-time WallClock.
var SystemClock WallClock = systemClock{}
