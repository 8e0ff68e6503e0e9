package traffic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// TierChange notifies a listener that a room moved to a new tier. The
// topology manager uses it to pre-provision the new binding set.
type TierChange struct {
	RoomID int64
	From   model.Tier
	To     model.Tier
}

// Monitor periodically samples every active room's viewer count, classifies
// it, and persists the resulting state. It is the only writer of
// RoomTrafficState.
type Monitor struct {
	cfg        config.TrafficConfig
	store      store.Store
	classifier *Classifier
	states     *States
	logger     *slog.Logger

	// Tier changes are published here; nil if nobody listens.
	changes chan<- TierChange

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. changes may be nil.
func NewMonitor(cfg config.TrafficConfig, st store.Store, states *States, changes chan<- TierChange, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:        cfg,
		store:      st,
		classifier: NewClassifier(cfg, logger),
		states:     states,
		changes:    changes,
		logger:     logger,
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.sampleLoop()

	m.logger.Info("traffic monitor started",
		"sample_interval", m.cfg.SampleInterval,
		"type_change_interval", m.cfg.TypeChangeInterval,
	)
	return nil
}

// Stop shuts down the sampling loop.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("traffic monitor stopped")
	case <-ctx.Done():
		m.logger.Warn("traffic monitor stop timed out")
	}
	return nil
}

func (m *Monitor) sampleLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SampleOnce(m.ctx, time.Now())
		}
	}
}

// SampleOnce runs a single classification pass over all active rooms.
func (m *Monitor) SampleOnce(ctx context.Context, now time.Time) {
	keys, err := m.store.Keys(ctx, "room:*:viewers")
	if err != nil {
		m.logger.Error("traffic sample: scan rooms failed", "error", err)
		return
	}

	for _, key := range keys {
		roomID, ok := store.RoomIDFromKey(key)
		if !ok {
			m.logger.Warn("traffic sample: unparseable room key", "key", key)
			continue
		}
		m.sampleRoom(ctx, roomID, now)
	}
}

func (m *Monitor) sampleRoom(ctx context.Context, roomID int64, now time.Time) {
	viewers, err := m.store.SCard(ctx, store.KeyRoomViewers(roomID))
	if err != nil {
		m.logger.Error("traffic sample: viewer count failed", "room_id", roomID, "error", err)
		return
	}

	state, found, err := m.states.Load(ctx, roomID)
	if err != nil {
		m.logger.Error("traffic sample: load state failed", "room_id", roomID, "error", err)
		return
	}

	if !found {
		if viewers == 0 {
			return
		}
		// First observation of this room.
		state = &model.RoomTrafficState{
			RoomID:           roomID,
			Tier:             model.TierCold,
			LastTierChangeAt: now.UnixMilli(),
		}
	}

	if viewers == 0 {
		// Room emptied out; drop the state record. The TTL would catch it
		// eventually, deleting keeps the keyspace tight.
		if err := m.states.Delete(ctx, roomID); err != nil {
			m.logger.Error("traffic sample: delete state failed", "room_id", roomID, "error", err)
		}
		return
	}

	from := state.Tier
	changed := m.classifier.Apply(state, int(viewers), now)

	if err := m.states.Save(ctx, state); err != nil {
		m.logger.Error("traffic sample: save state failed", "room_id", roomID, "error", err)
		return
	}

	if changed && m.changes != nil {
		select {
		case m.changes <- TierChange{RoomID: roomID, From: from, To: state.Tier}:
		default:
			m.logger.Warn("tier change listener lagging, notification dropped",
				"room_id", roomID, "to", state.Tier.String())
		}
	}
}
