package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUpToThreshold(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, 10)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1", now))
	}
	assert.False(t, rl.Allow("10.0.0.1", now), "fourth query in the same second exceeds threshold 3")
}

func TestRateLimiter_CooldownBlocksThenRecovers(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Second, 10)
	now := time.Now()

	require.True(t, rl.Allow("10.0.0.1", now))
	require.False(t, rl.Allow("10.0.0.1", now))

	assert.False(t, rl.Allow("10.0.0.1", now.Add(5*time.Second)), "still inside cooldown")
	assert.True(t, rl.Allow("10.0.0.1", now.Add(11*time.Second)), "cooldown expired")
}

func TestRateLimiter_WindowResetsAfterOneSecond(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, 10)
	now := time.Now()

	require.True(t, rl.Allow("10.0.0.1", now))
	require.True(t, rl.Allow("10.0.0.1", now))
	assert.True(t, rl.Allow("10.0.0.1", now.Add(time.Second)), "new window, count restarts")
}

func TestRateLimiter_SourcesAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, 10)
	now := time.Now()

	require.True(t, rl.Allow("10.0.0.1", now))
	require.False(t, rl.Allow("10.0.0.1", now))
	assert.True(t, rl.Allow("10.0.0.2", now))
}

func TestRateLimiter_EvictsLeastRecentlySeen(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i), now.Add(time.Duration(i)*time.Millisecond))
	}
	rl.Allow("10.0.0.99", now.Add(time.Second))

	assert.Len(t, rl.sources, 3)
	_, oldestStillTracked := rl.sources["10.0.0.0"]
	assert.False(t, oldestStillTracked, "the least-recently-seen source is evicted first")
}
