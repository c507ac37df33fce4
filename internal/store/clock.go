// ABOUTME: Monotonic timestamp source shared by the store backends
// ABOUTME: Guarantees strictly increasing stamps so time ordering follows call order

package store

import (
	"sync"
	"time"
)

// clock hands out UTC timestamps that never repeat or go backwards.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

// Next returns the current time, or 1ns past the previous stamp if the
// wall clock has not moved on since.
func (c *clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	// UTC() also drops the monotonic reading, so stamps compare by wall time
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
