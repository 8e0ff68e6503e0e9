package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Sweeper walks session records and enforces liveness: silent sessions go
// offline after the heartbeat timeout, and are removed entirely once the
// grace period on top of that has passed.
type Sweeper struct {
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper over the given registry.
func NewSweeper(reg *Registry, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: reg, logger: logger}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("session sweeper started",
		"heartbeat_timeout", s.registry.cfg.HeartbeatTimeout,
		"grace_period", s.registry.cfg.GracePeriod,
	)
	return nil
}

// Stop shuts down the sweep loop.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("session sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("session sweeper stop timed out")
	}
	return nil
}

func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.registry.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx, time.Now())
		}
	}
}

// SweepOnce runs a single liveness pass over every session record.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	keys, err := s.registry.store.Keys(ctx, "session:*")
	if err != nil {
		s.logger.Error("session sweep: scan failed", "error", err)
		return
	}

	for _, key := range keys {
		s.sweepSession(ctx, key, now)
	}
}

func (s *Sweeper) sweepSession(ctx context.Context, key string, now time.Time) {
	sess, err := s.registry.Get(ctx, sessionIDFromKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("session sweep: load failed", "key", key, "error", err)
		}
		return
	}

	cfg := s.registry.cfg
	if sess.ActiveWithin(cfg.HeartbeatTimeout, now) {
		return
	}

	if sess.ActiveWithin(cfg.HeartbeatTimeout+cfg.GracePeriod, now) {
		if !sess.Online {
			return
		}
		if err := s.registry.SetOnline(ctx, sess.SessionID, false); err != nil {
			s.logger.Error("session sweep: mark offline failed",
				"session_id", sess.SessionID, "error", err)
			return
		}
		s.logger.Info("session marked offline",
			"session_id", sess.SessionID, "room_id", sess.RoomID)
		return
	}

	// Past the grace period: remove the record and release the room slot.
	if err := s.registry.Delete(ctx, sess); err != nil {
		s.logger.Error("session sweep: delete failed",
			"session_id", sess.SessionID, "error", err)
		return
	}
	if _, err := s.registry.DecrRoomOnline(ctx, sess.RoomID); err != nil {
		s.logger.Error("session sweep: counter decrement failed",
			"room_id", sess.RoomID, "error", err)
	}
	s.logger.Info("session expired",
		"session_id", sess.SessionID,
		"room_id", sess.RoomID,
		"user_id", sess.UserID,
	)
}

func sessionIDFromKey(key string) string {
	const prefix = "session:"
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return ""
}
