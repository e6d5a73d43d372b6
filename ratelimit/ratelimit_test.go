package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterFixedWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := New(2, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("tok-1"))
	assert.True(t, limiter.Allow("tok-1"))
	assert.False(t, limiter.Allow("tok-1"), "third request in the window is over the limit")

	// Another key has its own window.
	assert.True(t, limiter.Allow("tok-2"))

	// A new window resets the count.
	now = now.Add(time.Minute)
	assert.True(t, limiter.Allow("tok-1"))
	assert.True(t, limiter.Allow("tok-1"))
	assert.False(t, limiter.Allow("tok-1"))
}

func TestLimiterWindowBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := New(1, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("tok-1"))
	now = now.Add(59 * time.Second)
	assert.False(t, limiter.Allow("tok-1"), "still inside the window")
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("tok-1"), "window rolled over exactly at the interval")
}
