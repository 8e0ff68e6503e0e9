package traffic

import (
	"log/slog"
	"time"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// Classifier maps viewer counts to tiers and applies them to room state
// under the anti-flap rule.
type Classifier struct {
	cfg    config.TrafficConfig
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg config.TrafficConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// Classify maps a viewer count to a tier. Monotonic: more viewers never
// yields a lower tier.
func (c *Classifier) Classify(viewerCount int) model.Tier {
	switch {
	case viewerCount >= c.cfg.SuperHotThreshold:
		return model.TierSuperHot
	case viewerCount >= c.cfg.HotThreshold:
		return model.TierHot
	case viewerCount > c.cfg.ColdThreshold:
		return model.TierNormal
	default:
		return model.TierCold
	}
}

// Apply classifies the sampled viewer count and applies the result to state.
// The tier only changes when the previous change is at least
// TypeChangeInterval old; otherwise the new classification is discarded and
// the previous tier retained. Returns true when the tier changed.
func (c *Classifier) Apply(state *model.RoomTrafficState, viewerCount int, now time.Time) bool {
	state.ViewerCount = viewerCount

	next := c.Classify(viewerCount)
	if next == state.Tier {
		return false
	}

	elapsed := now.UnixMilli() - state.LastTierChangeAt
	if elapsed < c.cfg.TypeChangeInterval.Milliseconds() {
		c.logger.Debug("tier change suppressed by anti-flap window",
			"room_id", state.RoomID,
			"current", state.Tier.String(),
			"computed", next.String(),
			"elapsed_ms", elapsed,
		)
		return false
	}

	c.logger.Info("room tier changed",
		"room_id", state.RoomID,
		"from", state.Tier.String(),
		"to", next.String(),
		"viewers", viewerCount,
	)
	state.Tier = next
	state.LastTierChangeAt = now.UnixMilli()
	return true
}
