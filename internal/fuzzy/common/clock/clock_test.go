package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestRealClock_Unix(t *testing.T) {
	c := RealClock{}
	now := uint64(time.Now().Unix())
	got := c.Unix()
	// allow one second of slack across the call
	assert.InDelta(t, now, got, 1)
}

func TestMockClock_Advance(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	assert.Equal(t, base, c.Now())
	assert.Equal(t, uint64(base.Unix()), c.Unix())

	c.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), c.Now())
	assert.Equal(t, uint64(base.Unix())+90, c.Unix())
}
