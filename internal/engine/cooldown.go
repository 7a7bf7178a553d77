package engine

import (
	"sync"
	"time"
)

// CooldownTracker remembers when each rule signature last fired.
//
// Entries are created on first fire and never deleted; their number is
// bounded by the distinct signatures across every rule set loaded.
//
// Thread-safety: all methods are safe for concurrent use. CheckAndRecord is
// the only method the engine calls, so the check and the update cannot be
// separated by another evaluation of the same key.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownTracker creates an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: make(map[string]time.Time)}
}

// ShouldSuppress reports whether key fired less than window before now.
func (c *CooldownTracker) ShouldSuppress(key string, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressedLocked(key, now, window)
}

// Record stores now as the last fire time of key.
func (c *CooldownTracker) Record(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = now
}

// CheckAndRecord suppresses or records in one step. It returns true when
// the fire is suppressed; otherwise now is recorded and false returned.
func (c *CooldownTracker) CheckAndRecord(key string, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressedLocked(key, now, window) {
		return true
	}
	c.last[key] = now
	return false
}

// LastFired returns when key last fired.
func (c *CooldownTracker) LastFired(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[key]
	return t, ok
}

// Len returns the number of tracked keys.
func (c *CooldownTracker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

func (c *CooldownTracker) suppressedLocked(key string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	last, ok := c.last[key]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}
