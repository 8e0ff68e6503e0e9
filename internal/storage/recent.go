package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// RecentCache keeps each room's latest messages in a time-scored sorted set
// so viewers joining a room get backlog without a database round trip.
type RecentCache struct {
	store store.Store
	cfg   config.ConsumerConfig
}

// NewRecentCache creates a RecentCache sized by cfg.RecentLimit.
func NewRecentCache(st store.Store, cfg config.ConsumerConfig) *RecentCache {
	return &RecentCache{store: st, cfg: cfg}
}

// Add caches one message and trims the room's set back to the limit.
func (c *RecentCache) Add(ctx context.Context, msg *model.DanmakuMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding cached message: %w", err)
	}

	key := store.KeyRoomMessages(msg.RoomID)
	if err := c.store.ZAdd(ctx, key, float64(msg.Timestamp), string(body)); err != nil {
		return err
	}
	// Keep the newest RecentLimit entries; everything older goes.
	if err := c.store.ZRemRangeByRank(ctx, key, 0, int64(-(c.cfg.RecentLimit + 1))); err != nil {
		return err
	}
	return c.store.Expire(ctx, key, c.cfg.RecentTTL)
}

// Latest returns up to limit cached messages for a room, newest first.
// Entries that fail to decode are skipped.
func (c *RecentCache) Latest(ctx context.Context, roomID int64, limit int) ([]*model.DanmakuMessage, error) {
	if limit <= 0 || limit > c.cfg.RecentLimit {
		limit = c.cfg.RecentLimit
	}

	raw, err := c.store.ZRevRange(ctx, store.KeyRoomMessages(roomID), int64(limit))
	if err != nil {
		return nil, err
	}

	msgs := make([]*model.DanmakuMessage, 0, len(raw))
	for _, entry := range raw {
		msg := &model.DanmakuMessage{}
		if err := json.Unmarshal([]byte(entry), msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
