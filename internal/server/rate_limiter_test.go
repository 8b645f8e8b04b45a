package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Second}, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "burst token %d", i)
	}
	assert.False(t, rl.allow(), "bucket is empty")

	clock = clock.Add(400 * time.Millisecond)
	assert.True(t, rl.allow(), "partial refill yields one token")
	assert.False(t, rl.allow())

	clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow())
	}
	assert.False(t, rl.allow(), "refill is capped at the burst size")
}

func TestRateLimiter_InvalidConfig(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{}, func() time.Time { return clock })

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	clock = clock.Add(time.Second)
	assert.True(t, rl.allow())
}
