package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jamespud/barrage-rush-sub001/internal/broker"
	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/retry"
	"github.com/jamespud/barrage-rush-sub001/internal/storage"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
	"github.com/jamespud/barrage-rush-sub001/internal/topology"
)

// retryCountTTL bounds how long an abandoned message's recovery counter
// lingers in the store.
const retryCountTTL = 10 * time.Minute

// Source is the consuming slice of the broker.
type Source interface {
	DeclareTransientBinding(ctx context.Context, b model.QueueBinding) error
	Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error)
}

// Broadcaster delivers a payload to a room's local connections.
type Broadcaster interface {
	BroadcastToRoom(roomID int64, data []byte) int
	Rooms() []int64
}

// Consumer owns this node's queue subscriptions. Each subscription runs on
// a node-private queue bound alongside the canonical one, so every node with
// local viewers for a room receives its own copy of the room's messages.
type Consumer struct {
	cfg        config.ConsumerConfig
	nodeID     string
	coldShards int
	source     Source
	store      store.Store
	history    storage.MessageStore // nil disables persistence
	cache      *storage.RecentCache // nil disables the recent cache
	fanout     Broadcaster
	policy     retry.Policy
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]context.CancelFunc
}

// New creates a Consumer. nodeID names this node's private queues and
// coldShards mirrors the topology configuration so the node knows which
// shared-pool bindings to shadow.
func New(cfg config.ConsumerConfig, nodeID string, coldShards int, src Source, st store.Store,
	history storage.MessageStore, cache *storage.RecentCache, fanout Broadcaster,
	logger *slog.Logger) *Consumer {

	if logger == nil {
		logger = slog.Default()
	}
	if coldShards < 1 {
		coldShards = 1
	}
	return &Consumer{
		cfg:        cfg,
		nodeID:     nodeID,
		coldShards: coldShards,
		source:     src,
		store:      st,
		history:    history,
		cache:      cache,
		fanout:     fanout,
		policy:     retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay},
		logger:     logger,
		workers:    make(map[string]context.CancelFunc),
	}
}

// Start subscribes to the cold pool and launches the rebind loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.Rebind(c.ctx)

	c.wg.Add(1)
	go c.rebindLoop()

	c.logger.Info("consumer started",
		"cold_shards", c.coldShards,
		"rebind_interval", c.cfg.RebindInterval,
	)
	return nil
}

// Stop cancels every subscription and waits for the workers.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer stopped")
	case <-ctx.Done():
		c.logger.Warn("consumer stop timed out")
	}
	return nil
}

func (c *Consumer) rebindLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RebindInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Rebind(c.ctx)
		}
	}
}

// Rebind reconciles subscriptions with the bindings this node should
// shadow: the cold pool always, plus every queue of a room with local
// viewers. Each subscription consumes a node-private queue bound with the
// canonical routing key, so the exchange delivers a copy to every node
// rather than splitting one queue between them.
func (c *Consumer) Rebind(ctx context.Context) {
	desired := make(map[string]model.QueueBinding)
	for i := 0; i < c.coldShards; i++ {
		nb := topology.NodeBinding(topology.BindingFor(model.TierCold, 0, i), c.nodeID)
		desired[nb.Queue] = nb
	}
	for _, roomID := range c.fanout.Rooms() {
		queues, err := c.store.SMembers(ctx, store.KeyRoomQueue(roomID))
		if err != nil {
			c.logger.Error("rebind: list room queues failed", "room_id", roomID, "error", err)
			continue
		}
		for _, q := range queues {
			if topology.IsColdQueue(q) {
				// Already shadowed through the pool.
				continue
			}
			keys, err := c.store.SMembers(ctx, store.KeyQueueRoutingKeys(q))
			if err != nil {
				c.logger.Error("rebind: list routing keys failed", "queue", q, "error", err)
				continue
			}
			for _, rk := range keys {
				nb := topology.NodeBinding(model.QueueBinding{
					Exchange:   topology.RoomExchange(roomID),
					Queue:      q,
					RoutingKey: rk,
				}, c.nodeID)
				desired[nb.Queue] = nb
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for queue, cancel := range c.workers {
		if _, keep := desired[queue]; !keep {
			cancel()
			delete(c.workers, queue)
			c.logger.Info("unsubscribed", "queue", queue)
		}
	}
	for queue, b := range desired {
		if _, running := c.workers[queue]; running {
			continue
		}
		c.subscribeLocked(ctx, b)
	}
}

// subscribeLocked declares the node-private binding and starts a worker on
// its queue. Caller holds c.mu.
func (c *Consumer) subscribeLocked(ctx context.Context, b model.QueueBinding) {
	if err := c.source.DeclareTransientBinding(ctx, b); err != nil {
		c.logger.Error("declare node binding failed", "queue", b.Queue, "error", err)
		return
	}
	deliveries, err := c.source.Consume(ctx, b.Queue)
	if err != nil {
		c.logger.Error("subscribe failed", "queue", b.Queue, "error", err)
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.workers[b.Queue] = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(workerCtx, b.Queue, deliveries)
	}()
	c.logger.Info("subscribed", "queue", b.Queue)
}

func (c *Consumer) drain(ctx context.Context, queue string, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery stream closed", "queue", queue)
				c.mu.Lock()
				delete(c.workers, queue)
				c.mu.Unlock()
				return
			}
			c.handle(ctx, d)
		}
	}
}

// handle processes one delivery. Persistence and the recent cache are best
// effort: a failure in either is logged and never delays or suppresses the
// broadcast to local connections.
func (c *Consumer) handle(ctx context.Context, d broker.Delivery) {
	msg := &model.DanmakuMessage{}
	if err := json.Unmarshal(d.Body, msg); err != nil {
		// Poison payload, not worth a retry.
		c.logger.Error("undecodable delivery dropped",
			"queue", d.Queue, "message_id", d.MessageID, "error", err)
		return
	}

	if c.cache != nil {
		if err := c.cache.Add(ctx, msg); err != nil {
			c.logger.Warn("recent cache update failed",
				"room_id", msg.RoomID, "message_id", msg.ID, "error", err)
		}
	}
	c.fanout.BroadcastToRoom(msg.RoomID, d.Body)

	c.persist(ctx, msg)
}

// persist writes the message to history after it has been delivered,
// retrying a bounded number of times before abandoning the write. The retry
// counter lives in the shared store so every node holding a copy of the
// message shares one budget; duplicate writes from other nodes' copies are
// absorbed by the store's message-id dedup.
func (c *Consumer) persist(ctx context.Context, msg *model.DanmakuMessage) {
	if c.history == nil {
		return
	}
	for {
		err := c.history.Save(ctx, msg)
		if err == nil {
			return
		}

		attempt, cntErr := c.store.IncrBy(ctx, store.KeyRetryCount(msg.ID), 1)
		if cntErr != nil {
			c.logger.Error("recovery counter unavailable, persistence abandoned",
				"message_id", msg.ID, "error", cntErr)
			return
		}
		c.store.Expire(ctx, store.KeyRetryCount(msg.ID), retryCountTTL)

		if attempt >= int64(c.cfg.MaxAttempts) {
			c.logger.Error("persistence abandoned after recovery attempts",
				"message_id", msg.ID,
				"room_id", msg.RoomID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		c.logger.Warn("persistence failed, retrying",
			"message_id", msg.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.policy.Delay(int(attempt))):
		}
	}
}
