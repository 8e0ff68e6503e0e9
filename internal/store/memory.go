package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. TTLs
// are honored lazily on access.
type Memory struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	expires map[string]time.Time

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the expiry clock; tests use it to step time.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// purgeLocked drops the key in every keyspace if its TTL has passed.
func (m *Memory) purgeLocked(key string) {
	deadline, ok := m.expires[key]
	if !ok || m.now().Before(deadline) {
		return
	}
	m.deleteLocked(key)
}

func (m *Memory) deleteLocked(key string) {
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	delete(m.expires, key)
}

func (m *Memory) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.setTTLLocked(key, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value
	m.setTTLLocked(key, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.deleteLocked(key)
	}
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	cur, _ := strconv.ParseInt(m.values[key], 10, 64)
	cur += delta
	m.values[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setTTLLocked(key, ttl)
	return nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	return int64(len(m.sets[key])), nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string)
		m.hashes[key] = hash
	}
	for k, v := range fields {
		hash[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	zset, ok := m.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (m *Memory) ZRevRange(_ context.Context, key string, n int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	ranked := m.rankedLocked(key)
	if n < int64(len(ranked)) {
		ranked = ranked[:n]
	}
	return ranked, nil
}

func (m *Memory) ZRemRangeByRank(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)

	// Redis rank order is ascending by score; negative indexes count from
	// the tail.
	ranked := m.rankedLocked(key)
	for i, j := 0, len(ranked)-1; i < j; i, j = i+1, j-1 {
		ranked[i], ranked[j] = ranked[j], ranked[i]
	}

	size := int64(len(ranked))
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	for rank := start; rank <= stop && rank < size; rank++ {
		delete(m.zsets[key], ranked[rank])
	}
	return nil
}

// rankedLocked returns members sorted by descending score, ties broken by
// member for determinism.
func (m *Memory) rankedLocked(key string) []string {
	zset := m.zsets[key]
	members := make([]string, 0, len(zset))
	for member := range zset {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := zset[members[i]], zset[members[j]]
		if si != sj {
			return si > sj
		}
		return members[i] < members[j]
	})
	return members
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for key := range m.values {
		seen[key] = struct{}{}
	}
	for key := range m.sets {
		seen[key] = struct{}{}
	}
	for key := range m.hashes {
		seen[key] = struct{}{}
	}
	for key := range m.zsets {
		seen[key] = struct{}{}
	}

	var out []string
	for key := range seen {
		m.purgeLocked(key)
		if matched, _ := path.Match(pattern, key); matched {
			if _, still := m.values[key]; still {
				out = append(out, key)
				continue
			}
			if _, still := m.sets[key]; still {
				out = append(out, key)
				continue
			}
			if _, still := m.hashes[key]; still {
				out = append(out, key)
				continue
			}
			if _, still := m.zsets[key]; still {
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
