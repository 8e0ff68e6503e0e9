package producer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jamespud/barrage-rush-sub001/internal/broker"
	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/retry"
)

// ErrInvalidMessage rejects messages missing a room or sender. Nothing is
// published for them and no retry happens.
var ErrInvalidMessage = errors.New("producer: invalid message")

// Tiers resolves a room's current traffic tier.
type Tiers interface {
	TierFor(ctx context.Context, roomID int64) (model.Tier, error)
}

// Topology is the slice of the topology manager the producer needs.
type Topology interface {
	EnsureBindings(ctx context.Context, roomID int64, tier model.Tier) error
	ResolveBinding(roomID int64, userKey string, tier model.Tier) model.QueueBinding
	MarkActive(ctx context.Context, queue string)
}

// Producer publishes danmaku messages into the broker.
type Producer struct {
	cfg      config.ProducerConfig
	pub      broker.Publisher
	tiers    Tiers
	topology Topology
	policy   retry.Policy
	logger   *slog.Logger
}

// New creates a Producer.
func New(cfg config.ProducerConfig, pub broker.Publisher, tiers Tiers, topo Topology, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		cfg:      cfg,
		pub:      pub,
		tiers:    tiers,
		topology: topo,
		policy:   retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay},
		logger:   logger,
	}
}

// Publish routes msg to the binding its room's tier currently maps to.
// It returns (false, ErrInvalidMessage) for a malformed message, (true, nil)
// once the broker accepted it, and (false, nil) when every attempt failed;
// delivery problems are logged rather than surfaced, the caller already did
// its part.
func (p *Producer) Publish(ctx context.Context, msg *model.DanmakuMessage) (bool, error) {
	if msg == nil || msg.RoomID == 0 || msg.UserID == 0 {
		return false, ErrInvalidMessage
	}

	tier, err := p.tiers.TierFor(ctx, msg.RoomID)
	if err != nil {
		// Fail closed onto the shared pool rather than dropping the message.
		p.logger.Warn("tier lookup failed, using cold pool",
			"room_id", msg.RoomID, "error", err)
		tier = model.TierCold
	}

	if err := p.topology.EnsureBindings(ctx, msg.RoomID, tier); err != nil {
		p.logger.Error("provisioning bindings failed",
			"room_id", msg.RoomID, "tier", tier.String(), "error", err)
		return false, nil
	}

	binding := p.topology.ResolveBinding(msg.RoomID, strconv.FormatInt(msg.UserID, 10), tier)

	body, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encoding message failed",
			"room_id", msg.RoomID, "message_id", msg.ID, "error", err)
		return false, nil
	}

	messageID := strconv.FormatUint(msg.ID, 10)
	err = p.policy.Do(ctx, func() error {
		return p.pub.Publish(ctx, binding.Exchange, binding.RoutingKey, messageID, body)
	})
	if err != nil {
		p.logger.Error("publish abandoned",
			"room_id", msg.RoomID,
			"message_id", msg.ID,
			"attempts", p.cfg.MaxAttempts,
			"error", err,
		)
		return false, nil
	}

	p.topology.MarkActive(ctx, binding.Queue)
	return true, nil
}
