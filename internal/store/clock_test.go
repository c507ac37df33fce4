// ABOUTME: Tests for the monotonic clock
// ABOUTME: Covers strictly increasing stamps and UTC normalization

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newClock()
	c.now = func() time.Time { return frozen }

	first := c.Next()
	second := c.Next()
	third := c.Next()

	assert.True(t, first.Equal(frozen))
	assert.Equal(t, time.Nanosecond, second.Sub(first))
	assert.Equal(t, time.Nanosecond, third.Sub(second))
}

func TestClock_NeverGoesBackwards(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newClock()
	c.now = func() time.Time { return now }

	first := c.Next()
	now = now.Add(-time.Hour)
	second := c.Next()

	assert.True(t, second.After(first), "clock moved back: %v then %v", first, second)
}

func TestClock_ReturnsUTC(t *testing.T) {
	c := newClock()
	c.now = func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("UTC+2", 2*60*60))
	}

	assert.Equal(t, time.UTC, c.Next().Location())
}
