package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "clients have separate buckets")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
}

func TestRateLimiter_PrunesIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	now = now.Add(staleBucketAge + time.Second)
	rl.allow("10.0.0.2")
	rl.prune()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestRateLimiter_CloseStopsSweep(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})
	done := make(chan struct{})
	go func() {
		rl.sweep(time.Millisecond)
		close(done)
	}()
	rl.close()
	rl.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop")
	}
}
