package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(base)
	assert.Equal(t, base, c.Now())

	next := c.Advance(72 * time.Hour)
	assert.Equal(t, base.Add(72*time.Hour), next)
	assert.Equal(t, next, c.Now())

	c.Set(base)
	assert.Equal(t, base, c.Now())
}
