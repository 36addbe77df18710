package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	// Refill slowly enough that the burst cannot replenish mid-test.
	l := New(Config{Rate: 0.001, Burst: 5}, Config{Rate: 0.001, Burst: 100})

	denied := 0
	for i := 0; i < 6; i++ {
		if !l.Allow(ClassCreate, "1.2.3.4") {
			denied++
		}
	}

	assert.Equal(t, 1, denied, "exactly the burst+1th request should be rejected")
}

func TestLimiter_ClassesAreIndependent(t *testing.T) {
	l := New(Config{Rate: 0.001, Burst: 1}, Config{Rate: 0.001, Burst: 10})

	assert.True(t, l.Allow(ClassCreate, "client"))
	assert.False(t, l.Allow(ClassCreate, "client"), "create bucket exhausted")

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(ClassRedirect, "client"), "redirect bucket must be unaffected, request %d", i)
	}
	assert.False(t, l.Allow(ClassRedirect, "client"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{Rate: 0.001, Burst: 1}, Config{Rate: 0.001, Burst: 1})

	assert.True(t, l.Allow(ClassRedirect, "10.0.0.1"))
	assert.False(t, l.Allow(ClassRedirect, "10.0.0.1"))
	assert.True(t, l.Allow(ClassRedirect, "10.0.0.2"), "a different client gets its own bucket")
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := New(Config{Rate: 100, Burst: 1}, Config{Rate: 100, Burst: 1})

	current := time.Now()
	l.now = func() time.Time { return current }

	assert.True(t, l.Allow(ClassCreate, "client"))
	assert.False(t, l.Allow(ClassCreate, "client"))

	// One token refills after 1/rate seconds.
	current = current.Add(20 * time.Millisecond)
	assert.True(t, l.Allow(ClassCreate, "client"))
}

func TestLimiter_UnknownClassRejected(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 1}, Config{Rate: 1, Burst: 1})
	assert.False(t, l.Allow(Class("bogus"), "client"))
}

func TestLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 1}, Config{Rate: 1, Burst: 1})

	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow(ClassCreate, "stale-client")
	assert.Len(t, l.buckets, 1)

	current = current.Add(2 * idleTTL)
	l.Allow(ClassCreate, "fresh-client")

	l.mu.Lock()
	_, staleExists := l.buckets["create|stale-client"]
	_, freshExists := l.buckets["create|fresh-client"]
	l.mu.Unlock()

	assert.False(t, staleExists, "idle bucket should be swept")
	assert.True(t, freshExists)
}
