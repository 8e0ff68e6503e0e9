package idgen

import (
	"errors"
	"testing"
)

func TestNewRejectsOutOfRangeIDs(t *testing.T) {
	tests := []struct {
		name         string
		datacenterID int64
		workerID     int64
	}{
		{"datacenter too large", 32, 0},
		{"datacenter negative", -1, 0},
		{"worker too large", 0, 32},
		{"worker negative", 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.datacenterID, tt.workerID); err == nil {
				t.Errorf("New(%d, %d) = nil error, want error", tt.datacenterID, tt.workerID)
			}
		})
	}
}

func TestNextIDStrictlyIncreasing(t *testing.T) {
	g, err := New(1, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var prev uint64
	for i := 0; i < 10000; i++ {
		id, err := g.NextID()
		if err != nil {
			t.Fatalf("NextID() error = %v", err)
		}
		if id <= prev {
			t.Fatalf("NextID() = %d after %d, not strictly increasing", id, prev)
		}
		prev = id
	}
}

func TestNextIDEmbedsWorkerAndDatacenter(t *testing.T) {
	g, err := New(3, 17)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	id, err := g.NextID()
	if err != nil {
		t.Fatalf("NextID() error = %v", err)
	}

	if dc := (id >> datacenterIDShift) & maxDatacenterID; dc != 3 {
		t.Errorf("datacenter bits = %d, want 3", dc)
	}
	if w := (id >> workerIDShift) & maxWorkerID; w != 17 {
		t.Errorf("worker bits = %d, want 17", w)
	}
}

func TestNextIDClockSkew(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	clock := int64(Epoch + 1000)
	g.now = func() int64 { return clock }

	if _, err := g.NextID(); err != nil {
		t.Fatalf("NextID() error = %v", err)
	}

	// Clock runs backward: the generator must fail, not emit an id.
	clock = Epoch + 999
	if _, err := g.NextID(); !errors.Is(err, ErrClockSkew) {
		t.Errorf("NextID() error = %v, want ErrClockSkew", err)
	}
}

func TestSequenceWrapWaitsForNextMillis(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ticks := 0
	clock := int64(Epoch + 5000)
	g.now = func() int64 {
		ticks++
		// Freeze time until the wrap forces a wait, then advance.
		if ticks > sequenceMask+10 {
			return clock + 1
		}
		return clock
	}

	var prev uint64
	for i := 0; i <= sequenceMask+1; i++ {
		id, err := g.NextID()
		if err != nil {
			t.Fatalf("NextID() error on call %d: %v", i, err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d at call %d", id, prev, i)
		}
		prev = id
	}

	// The 4097th id in one millisecond must carry the next timestamp.
	if tsField := prev >> timestampShift; tsField != uint64(clock+1-Epoch) {
		t.Errorf("timestamp field = %d, want %d (next millisecond)", tsField, clock+1-Epoch)
	}
}

func TestNextIDsBatch(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ids, err := g.NextIDs(100)
	if err != nil {
		t.Fatalf("NextIDs(100) error = %v", err)
	}
	if len(ids) != 100 {
		t.Fatalf("len(ids) = %d, want 100", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids[%d] = %d not greater than ids[%d] = %d", i, ids[i], i-1, ids[i-1])
		}
	}

	if ids, _ := g.NextIDs(0); ids != nil {
		t.Errorf("NextIDs(0) = %v, want nil", ids)
	}
}

func TestConcurrentGeneration(t *testing.T) {
	g, err := New(0, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	const goroutines = 8
	const perGoroutine = 2000

	results := make(chan uint64, goroutines*perGoroutine)
	done := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < perGoroutine; j++ {
				id, err := g.NextID()
				if err != nil {
					t.Error(err)
					return
				}
				results <- id
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
	close(results)

	seen := make(map[uint64]bool, goroutines*perGoroutine)
	for id := range results {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}
