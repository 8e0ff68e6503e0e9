package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any backend failure. Callers are expected to fail
// closed on it: treat sessions as not-online, rooms as not-classified.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the shared key-value store every push node can reach.
type Store interface {
	// Plain values
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Sorted sets (time-ordered message cache)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRange(ctx context.Context, key string, n int64) ([]string, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error

	// Key scans (sweep loops)
	Keys(ctx context.Context, pattern string) ([]string, error)
}
