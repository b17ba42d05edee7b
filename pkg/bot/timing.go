package bot

import (
	"sync"
	"time"
)

// Clock tracks when the persona last spoke or heard chat. Both loops share it.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{last: start}
}

// Stamp records activity at t. Older stamps never move the clock back.
func (c *Clock) Stamp(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

// Reserve reports whether quiet has passed since the last activity and, if
// so, stamps now in the same critical section so only one caller wins.
func (c *Clock) Reserve(now time.Time, quiet time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.last) < quiet {
		return false
	}
	c.last = now
	return true
}

func (c *Clock) LastSpoken() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
