package shortcode

import (
	"errors"
	"sync"
	"time"
)

const (
	// Custom epoch: 2023-01-01T00:00:00Z in milliseconds.
	epochMillis = 1672531200000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// ErrNodeIDOutOfRange is returned by NewGenerator for node IDs outside [0, 1023].
var ErrNodeIDOutOfRange = errors.New("node id out of range")

// Generator mints snowflake identifiers: 41 bits of milliseconds since the
// custom epoch, 10 bits of node ID and a 12-bit per-millisecond sequence.
// The node ID keeps concurrently running instances from colliding, so the
// generator is safe across processes, not just goroutines.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	lastTS   int64
	sequence int64
	now      func() int64 // millisecond clock, swappable in tests
}

// NewGenerator creates a Generator for the given node ID.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrNodeIDOutOfRange
	}
	return &Generator{
		nodeID: nodeID,
		lastTS: -1,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns a fresh identifier. IDs from one generator are strictly
// increasing. When the sequence wraps within a single millisecond the call
// spins until the clock ticks; if the wall clock runs backwards it waits
// for the clock to catch up rather than reissuing an old timestamp.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	for ts < g.lastTS {
		ts = g.now()
	}

	if ts == g.lastTS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ts <= g.lastTS {
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTS = ts
	return (ts-epochMillis)<<timestampShift | g.nodeID<<nodeShift | g.sequence
}
