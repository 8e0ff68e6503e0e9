package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// Both implementations must satisfy the interface.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*RedisStore)(nil)
)

func TestMemoryValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get(k) = (%q, %v), want (v, true)", v, ok)
	}

	if n, _ := m.IncrBy(ctx, "counter", 3); n != 3 {
		t.Errorf("IncrBy = %d, want 3", n)
	}
	if n, _ := m.IncrBy(ctx, "counter", -1); n != 2 {
		t.Errorf("IncrBy = %d, want 2", n)
	}
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if ok, _ := m.SetNX(ctx, "lock", "a", 0); !ok {
		t.Error("first SetNX = false, want true")
	}
	if ok, _ := m.SetNX(ctx, "lock", "b", 0); ok {
		t.Error("second SetNX = true, want false")
	}

	m.Del(ctx, "lock")
	if ok, _ := m.SetNX(ctx, "lock", "c", 0); !ok {
		t.Error("SetNX after Del = false, want true")
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Unix(1000, 0)
	m.SetClock(func() time.Time { return now })

	m.Set(ctx, "k", "v", 30*time.Second)

	now = now.Add(29 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Error("key expired before TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("key survived past TTL")
	}
}

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.SAdd(ctx, "s", "a", "b", "c")
	m.SAdd(ctx, "s", "b")
	m.SRem(ctx, "s", "c")

	members, _ := m.SMembers(ctx, "s")
	if !reflect.DeepEqual(members, []string{"a", "b"}) {
		t.Errorf("SMembers = %v, want [a b]", members)
	}
	if n, _ := m.SCard(ctx, "s"); n != 2 {
		t.Errorf("SCard = %d, want 2", n)
	}
}

func TestMemoryHashes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	m.HSet(ctx, "h", map[string]string{"b": "3"})

	fields, _ := m.HGetAll(ctx, "h")
	if !reflect.DeepEqual(fields, map[string]string{"a": "1", "b": "3"}) {
		t.Errorf("HGetAll = %v", fields)
	}
}

func TestMemoryZSetOrderAndTrim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.ZAdd(ctx, "z", 3, "third")
	m.ZAdd(ctx, "z", 1, "first")
	m.ZAdd(ctx, "z", 2, "second")

	top, _ := m.ZRevRange(ctx, "z", 2)
	if !reflect.DeepEqual(top, []string{"third", "second"}) {
		t.Errorf("ZRevRange(2) = %v, want [third second]", top)
	}

	// Keep only the newest 2: trim ascending ranks 0..-3.
	m.ZRemRangeByRank(ctx, "z", 0, -3)
	remaining, _ := m.ZRevRange(ctx, "z", 10)
	if !reflect.DeepEqual(remaining, []string{"third", "second"}) {
		t.Errorf("after trim = %v, want [third second]", remaining)
	}
}

func TestMemoryKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "room:1:viewers", "x", 0)
	m.SAdd(ctx, "room:2:viewers", "s1")
	m.Set(ctx, "room:1:connections", "3", 0)
	m.HSet(ctx, "session:abc", map[string]string{"userId": "1"})

	keys, _ := m.Keys(ctx, "room:*:viewers")
	if !reflect.DeepEqual(keys, []string{"room:1:viewers", "room:2:viewers"}) {
		t.Errorf("Keys = %v", keys)
	}
}
