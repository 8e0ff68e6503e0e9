package topology

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamespud/barrage-rush-sub001/internal/broker"
	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/shard"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// ErrProvision is returned when a binding could not be provisioned before
// the lock timeout, typically because another node holds the lock and never
// finished.
var ErrProvision = errors.New("topology: provisioning timed out")

// readyTTL bounds how long a provisioned marker survives without
// re-provisioning. Long enough to outlive any session, short enough that a
// binding deleted out-of-band gets redeclared within a day.
const readyTTL = 24 * time.Hour

// lockPollInterval is how often a node waiting on another node's
// provisioning re-checks the ready marker.
const lockPollInterval = 20 * time.Millisecond

// Manager provisions and tears down broker bindings. All nodes run one;
// the distributed lock in the shared store keeps them from racing on the
// same queue.
type Manager struct {
	cfg    config.TopologyConfig
	broker broker.Broker
	store  store.Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg config.TopologyConfig, br broker.Broker, st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		broker: br,
		store:  st,
		logger: logger,
	}
}

// ShardCount returns how many queue shards a tier spreads over.
func (m *Manager) ShardCount(tier model.Tier) int {
	var n int
	switch tier {
	case model.TierCold:
		n = m.cfg.ColdShards
	case model.TierNormal:
		n = m.cfg.NormalShards
	case model.TierHot:
		n = m.cfg.HotShards
	default:
		n = m.cfg.SuperHotShards
	}
	if n < 1 {
		n = 1
	}
	return n
}

// EnsureColdPool provisions the shared cold-pool bindings. Called once at
// startup; the pool is never swept, so rooms falling back to COLD always
// have somewhere to land.
func (m *Manager) EnsureColdPool(ctx context.Context) error {
	return m.EnsureBindings(ctx, 0, model.TierCold)
}

// EnsureBindings provisions every shard binding a room needs at the given
// tier, one goroutine per shard. Safe to call repeatedly and from multiple
// nodes at once.
func (m *Manager) EnsureBindings(ctx context.Context, roomID int64, tier model.Tier) error {
	count := m.ShardCount(tier)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		b := BindingFor(tier, roomID, i)
		g.Go(func() error {
			return m.ensureOne(ctx, roomID, b)
		})
	}
	return g.Wait()
}

func (m *Manager) ensureOne(ctx context.Context, roomID int64, b model.QueueBinding) error {
	ready, _, err := m.store.Get(ctx, store.KeyBindingReady(b.Queue))
	if err != nil {
		return err
	}
	if ready != "" {
		return nil
	}

	acquired, err := m.store.SetNX(ctx, store.KeyBindingLock(b.Queue), "1", m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return m.awaitReady(ctx, b.Queue)
	}
	defer func() {
		if err := m.store.Del(ctx, store.KeyBindingLock(b.Queue)); err != nil {
			m.logger.Warn("releasing binding lock failed", "queue", b.Queue, "error", err)
		}
	}()

	if err := m.broker.DeclareBinding(ctx, b); err != nil {
		return err
	}
	if err := m.recordBinding(ctx, roomID, b); err != nil {
		return err
	}
	if err := m.store.Set(ctx, store.KeyBindingReady(b.Queue), "1", readyTTL); err != nil {
		return err
	}

	m.logger.Info("binding provisioned",
		"room_id", roomID,
		"tier", b.Tier.String(),
		"queue", b.Queue,
		"routing_key", b.RoutingKey,
	)
	return nil
}

// awaitReady polls for the ready marker while another node provisions.
func (m *Manager) awaitReady(ctx context.Context, queue string) error {
	deadline := time.Now().Add(m.cfg.LockTimeout)
	for time.Now().Before(deadline) {
		ready, _, err := m.store.Get(ctx, store.KeyBindingReady(queue))
		if err != nil {
			return err
		}
		if ready != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
	return ErrProvision
}

// recordBinding writes the layout records other components read. Cold-pool
// bindings carry no room association (roomID 0).
func (m *Manager) recordBinding(ctx context.Context, roomID int64, b model.QueueBinding) error {
	if roomID != 0 {
		if err := m.store.SAdd(ctx, store.KeyRoomExchange(roomID), b.Exchange); err != nil {
			return err
		}
		if err := m.store.SAdd(ctx, store.KeyRoomQueue(roomID), b.Queue); err != nil {
			return err
		}
	}
	if err := m.store.SAdd(ctx, store.KeyExchangeQueues(b.Exchange), b.Queue); err != nil {
		return err
	}
	return m.store.SAdd(ctx, store.KeyQueueRoutingKeys(b.Queue), b.RoutingKey)
}

// ResolveBinding picks the shard binding a message should be published to.
// Cold rooms bucket by room id so one room's messages stay in one pool
// queue; hot tiers spread a room's senders across shards by userKey.
func (m *Manager) ResolveBinding(roomID int64, userKey string, tier model.Tier) model.QueueBinding {
	count := m.ShardCount(tier)

	var idx int
	switch tier {
	case model.TierCold:
		idx = shard.IndexForID(roomID, count)
	case model.TierNormal:
		idx = 0
	default:
		idx = shard.IndexFor(userKey, count)
	}
	return BindingFor(tier, roomID, idx)
}

// MarkActive refreshes the queue's activity marker. Best effort; a miss
// only risks an early sweep followed by re-provisioning.
func (m *Manager) MarkActive(ctx context.Context, queue string) {
	if err := m.store.Set(ctx, store.KeyBindingActive(queue), "1", m.cfg.IdleTTL); err != nil {
		m.logger.Warn("marking binding active failed", "queue", queue, "error", err)
	}
}

// Start launches the idle-binding sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.sweepLoop()

	m.logger.Info("topology manager started",
		"cold_shards", m.cfg.ColdShards,
		"sweep_interval", m.cfg.SweepInterval,
	)
	return nil
}

// Stop shuts down the sweep loop.
func (m *Manager) Stop(ctx context.Context) error {
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
		m.logger.Info("topology manager stopped")
	case <-ctx.Done():
		m.logger.Warn("topology manager stop timed out")
	}
	return nil
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce(m.ctx)
		}
	}
}

// SweepOnce tears down bindings of rooms that have no viewers and no recent
// publish or consume activity. The cold pool is exempt.
func (m *Manager) SweepOnce(ctx context.Context) {
	keys, err := m.store.Keys(ctx, "room:*:queue")
	if err != nil {
		m.logger.Error("binding sweep: scan failed", "error", err)
		return
	}

	for _, key := range keys {
		roomID, ok := store.RoomIDFromKey(key)
		if !ok {
			continue
		}
		m.sweepRoom(ctx, roomID)
	}
}

func (m *Manager) sweepRoom(ctx context.Context, roomID int64) {
	viewers, err := m.store.SCard(ctx, store.KeyRoomViewers(roomID))
	if err != nil {
		m.logger.Error("binding sweep: viewer count failed", "room_id", roomID, "error", err)
		return
	}
	if viewers > 0 {
		return
	}

	queues, err := m.store.SMembers(ctx, store.KeyRoomQueue(roomID))
	if err != nil {
		m.logger.Error("binding sweep: list queues failed", "room_id", roomID, "error", err)
		return
	}

	remaining := 0
	for _, queue := range queues {
		if IsColdQueue(queue) {
			continue
		}
		active, _, err := m.store.Get(ctx, store.KeyBindingActive(queue))
		if err != nil || active != "" {
			remaining++
			continue
		}
		if err := m.teardown(ctx, roomID, queue); err != nil {
			m.logger.Error("binding sweep: teardown failed",
				"room_id", roomID, "queue", queue, "error", err)
			remaining++
		}
	}

	if remaining == 0 {
		if err := m.store.Del(ctx, store.KeyRoomExchange(roomID), store.KeyRoomQueue(roomID)); err != nil {
			m.logger.Error("binding sweep: record cleanup failed", "room_id", roomID, "error", err)
		}
	}
}

func (m *Manager) teardown(ctx context.Context, roomID int64, queue string) error {
	exchange := RoomExchange(roomID)
	if err := m.broker.DeleteBinding(ctx, model.QueueBinding{Exchange: exchange, Queue: queue}); err != nil {
		return err
	}

	if err := m.store.SRem(ctx, store.KeyRoomQueue(roomID), queue); err != nil {
		return err
	}
	if err := m.store.SRem(ctx, store.KeyExchangeQueues(exchange), queue); err != nil {
		return err
	}
	if err := m.store.Del(ctx,
		store.KeyQueueRoutingKeys(queue),
		store.KeyBindingReady(queue),
	); err != nil {
		return err
	}

	m.logger.Info("binding swept", "room_id", roomID, "queue", queue)
	return nil
}
