package shortcode

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	t.Run("accepts node ids in range", func(t *testing.T) {
		for _, id := range []int64{0, 1, 512, maxNodeID} {
			_, err := NewGenerator(id)
			require.NoError(t, err, "node id %d", id)
		}
	})

	t.Run("rejects node ids out of range", func(t *testing.T) {
		for _, id := range []int64{-1, maxNodeID + 1, 99999} {
			_, err := NewGenerator(id)
			require.ErrorIs(t, err, ErrNodeIDOutOfRange, "node id %d", id)
		}
	})
}

func TestGenerator_NextID_Monotonic(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	prev := g.NextID()
	for i := 0; i < 10000; i++ {
		id := g.NextID()
		require.Greater(t, id, prev, "ids must be strictly increasing")
		prev = id
	}
}

func TestGenerator_NextID_ConcurrentUniqueness(t *testing.T) {
	g, err := NewGenerator(3)
	require.NoError(t, err)

	const (
		goroutines = 8
		perRoutine = 2000
	)

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{}, goroutines*perRoutine)
		wg  sync.WaitGroup
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perRoutine)
			for j := 0; j < perRoutine; j++ {
				local = append(local, g.NextID())
			}
			mu.Lock()
			for _, id := range local {
				ids[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, goroutines*perRoutine, "expected all generated ids to be unique")
}

func TestGenerator_NextID_EmbedsNodeID(t *testing.T) {
	g, err := NewGenerator(42)
	require.NoError(t, err)

	id := g.NextID()
	assert.Equal(t, int64(42), (id>>nodeShift)&maxNodeID)
}

func TestGenerator_NextID_SequenceWrapWaitsForClock(t *testing.T) {
	g, err := NewGenerator(0)
	require.NoError(t, err)

	// Frozen clock that advances only after the sequence space is exhausted.
	var calls int
	now := int64(1)
	g.now = func() int64 {
		calls++
		if calls > maxSequence+10 {
			now = 2
		}
		return now
	}

	seen := make(map[int64]struct{})
	for i := 0; i <= maxSequence+1; i++ {
		id := g.NextID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id after sequence wrap")
		seen[id] = struct{}{}
	}
}

func TestGenerator_NextID_EncodesToShortCode(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	code := Encode(uint64(g.NextID()))
	assert.GreaterOrEqual(t, len(code), 5, "snowflake ids encode to at least 5 characters")
	assert.LessOrEqual(t, len(code), MaxCodeLen)

	decoded, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, code, Encode(decoded))
}
