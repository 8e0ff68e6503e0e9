package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Epoch is the fixed origin for the 41-bit timestamp field
// (2010-11-04 01:42:54.657 UTC).
const Epoch = int64(1288834974657)

const (
	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	sequenceMask    = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift     = sequenceBits
	datacenterIDShift = sequenceBits + workerIDBits
	timestampShift    = sequenceBits + workerIDBits + datacenterIDBits
)

// ErrClockSkew is returned when the wall clock moves backward past the last
// generated timestamp. The generator refuses to emit an id in that state;
// callers must not substitute a value of their own.
var ErrClockSkew = errors.New("idgen: clock moved backwards")

// Generator produces snowflake ids. Safe for concurrent use; each call is
// serialized because it mutates the last-timestamp/sequence state.
type Generator struct {
	mu sync.Mutex

	datacenterID int64
	workerID     int64
	sequence     int64
	lastTS       int64

	now func() int64 // millisecond clock, swappable in tests
}

// New creates a Generator for the given (datacenterID, workerID) pair, both
// in [0, 31].
func New(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, fmt.Errorf("idgen: datacenter id %d out of range [0, %d]", datacenterID, maxDatacenterID)
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: worker id %d out of range [0, %d]", workerID, maxWorkerID)
	}
	return &Generator{
		datacenterID: datacenterID,
		workerID:     workerID,
		lastTS:       -1,
		now:          func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next id. Ids from one instance are strictly increasing;
// when the per-millisecond sequence wraps, the call busy-waits for the next
// millisecond rather than reusing a sequence value.
func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next()
}

// NextIDs returns n ids under a single lock acquisition.
func (g *Generator) NextIDs(n int) ([]uint64, error) {
	if n <= 0 {
		return nil, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]uint64, n)
	for i := range ids {
		id, err := g.next()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// next must be called with g.mu held.
func (g *Generator) next() (uint64, error) {
	ts := g.now()

	if ts < g.lastTS {
		return 0, fmt.Errorf("%w: refusing to generate for %dms", ErrClockSkew, g.lastTS-ts)
	}

	if ts == g.lastTS {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ts = g.tilNextMillis(g.lastTS)
		}
	} else {
		g.sequence = 0
	}

	g.lastTS = ts

	id := (ts-Epoch)<<timestampShift |
		g.datacenterID<<datacenterIDShift |
		g.workerID<<workerIDShift |
		g.sequence
	return uint64(id), nil
}

// tilNextMillis spins until the clock passes the given millisecond.
func (g *Generator) tilNextMillis(last int64) int64 {
	ts := g.now()
	for ts <= last {
		ts = g.now()
	}
	return ts
}
