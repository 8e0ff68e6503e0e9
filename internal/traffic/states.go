package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// States reads and writes RoomTrafficState records in the shared store.
type States struct {
	store store.Store
	ttl   time.Duration
}

// NewStates creates a States view with the given record TTL.
func NewStates(st store.Store, ttl time.Duration) *States {
	return &States{store: st, ttl: ttl}
}

// Load returns the state for a room, or ok=false when the room has never
// been classified (or its state expired).
func (s *States) Load(ctx context.Context, roomID int64) (*model.RoomTrafficState, bool, error) {
	raw, ok, err := s.store.Get(ctx, store.KeyRoomTraffic(roomID))
	if err != nil {
		return nil, false, fmt.Errorf("load traffic state: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var state model.RoomTrafficState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, false, fmt.Errorf("decode traffic state for room %d: %w", roomID, err)
	}
	return &state, true, nil
}

// Save persists the state with the configured TTL.
func (s *States) Save(ctx context.Context, state *model.RoomTrafficState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode traffic state: %w", err)
	}
	if err := s.store.Set(ctx, store.KeyRoomTraffic(state.RoomID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("save traffic state: %w", err)
	}
	return nil
}

// Delete removes a room's state (room went inactive).
func (s *States) Delete(ctx context.Context, roomID int64) error {
	return s.store.Del(ctx, store.KeyRoomTraffic(roomID))
}

// TierFor reads (never classifies) the room's current tier. Rooms without a
// state record are treated as COLD: an unclassified room belongs in the
// shared pool. On store failure the tier also fails closed to COLD, and the
// error is returned so the caller can log it.
func (s *States) TierFor(ctx context.Context, roomID int64) (model.Tier, error) {
	state, ok, err := s.Load(ctx, roomID)
	if err != nil {
		return model.TierCold, err
	}
	if !ok {
		return model.TierCold, nil
	}
	return state.Tier, nil
}
