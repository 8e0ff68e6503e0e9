package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jamespud/barrage-rush-sub001/internal/broker"
	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// fakeBroker records topology operations.
type fakeBroker struct {
	mu       sync.Mutex
	declared []model.QueueBinding
	deleted  []model.QueueBinding
	declErr  error
}

func (f *fakeBroker) DeclareBinding(_ context.Context, b model.QueueBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declErr != nil {
		return f.declErr
	}
	f.declared = append(f.declared, b)
	return nil
}

func (f *fakeBroker) DeleteBinding(_ context.Context, b model.QueueBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, b)
	return nil
}

func (f *fakeBroker) Publish(context.Context, string, string, string, []byte) error {
	return nil
}

func (f *fakeBroker) Consume(context.Context, string) (<-chan broker.Delivery, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) DeclareTransientBinding(context.Context, model.QueueBinding) error {
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) declareCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.declared)
}

func testTopologyConfig() config.TopologyConfig {
	return config.TopologyConfig{
		ColdShards:     2,
		NormalShards:   1,
		HotShards:      3,
		SuperHotShards: 5,
		LockTimeout:    200 * time.Millisecond,
		IdleTTL:        time.Minute,
		SweepInterval:  time.Minute,
	}
}

func TestBindingForNaming(t *testing.T) {
	tests := []struct {
		name       string
		tier       model.Tier
		roomID     int64
		shardIndex int
		exchange   string
		queue      string
		routingKey string
	}{
		{"cold", model.TierCold, 42, 1, "danmaku.exchange.shared", "danmaku.queue.cold.1", "danmaku.cold.1"},
		{"normal", model.TierNormal, 42, 0, "danmaku.exchange.42", "danmaku.queue.42", "danmaku.room.42.0"},
		{"hot", model.TierHot, 42, 2, "danmaku.exchange.42", "danmaku.queue.42.2", "danmaku.room.42.2"},
		{"super_hot", model.TierSuperHot, 42, 4, "danmaku.exchange.42", "danmaku.queue.42.4", "danmaku.room.42.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BindingFor(tt.tier, tt.roomID, tt.shardIndex)
			if b.Exchange != tt.exchange {
				t.Errorf("Exchange = %q, want %q", b.Exchange, tt.exchange)
			}
			if b.Queue != tt.queue {
				t.Errorf("Queue = %q, want %q", b.Queue, tt.queue)
			}
			if b.RoutingKey != tt.routingKey {
				t.Errorf("RoutingKey = %q, want %q", b.RoutingKey, tt.routingKey)
			}
		})
	}
}

func TestNodeBindingKeepsExchangeAndRoutingKey(t *testing.T) {
	b := BindingFor(model.TierHot, 42, 2)
	nb := NodeBinding(b, "push-1")

	if nb.Queue != "danmaku.queue.42.2.push-1" {
		t.Errorf("Queue = %q, want danmaku.queue.42.2.push-1", nb.Queue)
	}
	if nb.Exchange != b.Exchange || nb.RoutingKey != b.RoutingKey {
		t.Errorf("NodeBinding changed exchange/routing key: (%q, %q), want (%q, %q)",
			nb.Exchange, nb.RoutingKey, b.Exchange, b.RoutingKey)
	}
}

func TestEnsureBindingsDeclaresEveryShard(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	if err := m.EnsureBindings(ctx, 7, model.TierHot); err != nil {
		t.Fatalf("EnsureBindings() error = %v", err)
	}
	if got := br.declareCount(); got != 3 {
		t.Fatalf("declared %d bindings, want 3", got)
	}

	queues, err := st.SMembers(ctx, store.KeyRoomQueue(7))
	if err != nil {
		t.Fatalf("SMembers() error = %v", err)
	}
	if len(queues) != 3 {
		t.Errorf("recorded %d queues, want 3", len(queues))
	}
}

func TestEnsureBindingsIdempotent(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	if err := m.EnsureBindings(ctx, 7, model.TierNormal); err != nil {
		t.Fatalf("first EnsureBindings() error = %v", err)
	}
	if err := m.EnsureBindings(ctx, 7, model.TierNormal); err != nil {
		t.Fatalf("second EnsureBindings() error = %v", err)
	}
	if got := br.declareCount(); got != 1 {
		t.Errorf("declared %d bindings across two calls, want 1", got)
	}
}

func TestEnsureBindingsWaitsForOtherProvisioner(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	b := BindingFor(model.TierNormal, 9, 0)
	// Another node holds the lock and flips the ready marker shortly after.
	if _, err := st.SetNX(ctx, store.KeyBindingLock(b.Queue), "1", time.Minute); err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		st.Set(ctx, store.KeyBindingReady(b.Queue), "1", time.Minute)
	}()

	if err := m.EnsureBindings(ctx, 9, model.TierNormal); err != nil {
		t.Fatalf("EnsureBindings() error = %v", err)
	}
	if got := br.declareCount(); got != 0 {
		t.Errorf("declared %d bindings while waiting on peer, want 0", got)
	}
}

func TestEnsureBindingsLockTimeout(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	b := BindingFor(model.TierNormal, 9, 0)
	// A stuck peer holds the lock and never finishes.
	if _, err := st.SetNX(ctx, store.KeyBindingLock(b.Queue), "1", time.Minute); err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}

	err := m.EnsureBindings(ctx, 9, model.TierNormal)
	if !errors.Is(err, ErrProvision) {
		t.Errorf("EnsureBindings() error = %v, want ErrProvision", err)
	}
}

func TestResolveBindingShardSelection(t *testing.T) {
	m := NewManager(testTopologyConfig(), &fakeBroker{}, store.NewMemory(), nil)

	// Normal rooms have exactly one shard.
	if b := m.ResolveBinding(7, "user-1", model.TierNormal); b.ShardIndex != 0 {
		t.Errorf("normal ShardIndex = %d, want 0", b.ShardIndex)
	}

	// The same sender always lands on the same hot shard.
	first := m.ResolveBinding(7, "user-1", model.TierHot)
	second := m.ResolveBinding(7, "user-1", model.TierHot)
	if first != second {
		t.Errorf("hot binding not stable: %+v vs %+v", first, second)
	}
	if first.ShardIndex < 0 || first.ShardIndex >= 3 {
		t.Errorf("hot ShardIndex = %d, want in [0,3)", first.ShardIndex)
	}

	// Cold rooms bucket by room id, not sender.
	byUserA := m.ResolveBinding(7, "user-1", model.TierCold)
	byUserB := m.ResolveBinding(7, "user-2", model.TierCold)
	if byUserA != byUserB {
		t.Errorf("cold binding varies by sender: %+v vs %+v", byUserA, byUserB)
	}
}

func TestSweepRemovesIdleRoomBindings(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	if err := m.EnsureBindings(ctx, 7, model.TierHot); err != nil {
		t.Fatalf("EnsureBindings() error = %v", err)
	}

	// No viewers, no activity markers: everything goes.
	m.SweepOnce(ctx)

	br.mu.Lock()
	deleted := len(br.deleted)
	br.mu.Unlock()
	if deleted != 3 {
		t.Errorf("deleted %d bindings, want 3", deleted)
	}

	queues, err := st.SMembers(ctx, store.KeyRoomQueue(7))
	if err != nil {
		t.Fatalf("SMembers() error = %v", err)
	}
	if len(queues) != 0 {
		t.Errorf("room queue records remain after sweep: %v", queues)
	}
}

func TestSweepKeepsRoomsWithViewersOrActivity(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	if err := m.EnsureBindings(ctx, 7, model.TierNormal); err != nil {
		t.Fatalf("EnsureBindings(room 7) error = %v", err)
	}
	if err := m.EnsureBindings(ctx, 8, model.TierNormal); err != nil {
		t.Fatalf("EnsureBindings(room 8) error = %v", err)
	}

	// Room 7 still has a viewer; room 8 is empty but recently active.
	if err := st.SAdd(ctx, store.KeyRoomViewers(7), "session-a"); err != nil {
		t.Fatalf("SAdd() error = %v", err)
	}
	m.MarkActive(ctx, BindingFor(model.TierNormal, 8, 0).Queue)

	m.SweepOnce(ctx)

	br.mu.Lock()
	deleted := len(br.deleted)
	br.mu.Unlock()
	if deleted != 0 {
		t.Errorf("deleted %d bindings, want 0", deleted)
	}
}

func TestSweepNeverTouchesColdPool(t *testing.T) {
	br := &fakeBroker{}
	st := store.NewMemory()
	m := NewManager(testTopologyConfig(), br, st, nil)
	ctx := context.Background()

	if err := m.EnsureColdPool(ctx); err != nil {
		t.Fatalf("EnsureColdPool() error = %v", err)
	}
	if got := br.declareCount(); got != 2 {
		t.Fatalf("cold pool declared %d bindings, want 2", got)
	}

	m.SweepOnce(ctx)

	br.mu.Lock()
	deleted := len(br.deleted)
	br.mu.Unlock()
	if deleted != 0 {
		t.Errorf("sweep deleted %d cold-pool bindings, want 0", deleted)
	}
}
