package registry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
)

// ErrNotFound is returned when a session id has no record, either because it
// never existed or because the sweeper removed it.
var ErrNotFound = errors.New("registry: session not found")

// Registry reads and writes session records in the shared store.
type Registry struct {
	cfg      config.SessionConfig
	store    store.Store
	serverID string

	now func() time.Time
}

// New creates a Registry. serverID identifies this node on sessions it owns.
func New(cfg config.SessionConfig, st store.Store, serverID string) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    st,
		serverID: serverID,
		now:      time.Now,
	}
}

// SetClock overrides the registry's clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Create registers a new session for sess.UserID in sess.RoomID. It assigns
// the session id, stamps ownership and timestamps, stores the record and
// adds the session to the room's viewer set. The session stays offline until
// a heartbeat arrives.
func (r *Registry) Create(ctx context.Context, sess *model.UserSession) error {
	now := r.now()
	sess.SessionID = uuid.NewString()
	sess.ServerID = r.serverID
	sess.ConnectTime = model.Millis(now)
	sess.LastActiveTime = model.Millis(now)
	sess.Online = false

	if err := r.save(ctx, sess); err != nil {
		return err
	}
	return r.store.SAdd(ctx, store.KeyRoomViewers(sess.RoomID), sess.SessionID)
}

func (r *Registry) save(ctx context.Context, sess *model.UserSession) error {
	key := store.KeySession(sess.SessionID)
	if err := r.store.HSet(ctx, key, encodeSession(sess)); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.cfg.TTL)
}

// Get loads one session record.
func (r *Registry) Get(ctx context.Context, sessionID string) (*model.UserSession, error) {
	fields, err := r.store.HGetAll(ctx, store.KeySession(sessionID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(fields), nil
}

// SetDataChannel attaches the data-channel id to a session. Idempotent. A
// data channel alone does not make the session online.
func (r *Registry) SetDataChannel(ctx context.Context, sessionID, channelID string) error {
	return r.setChannel(ctx, sessionID, "dataSessionId", channelID, false)
}

// SetHeartbeatChannel attaches the heartbeat-channel id to a session and
// marks it online. The two channels arrive independently, in either order.
func (r *Registry) SetHeartbeatChannel(ctx context.Context, sessionID, channelID string) error {
	return r.setChannel(ctx, sessionID, "heartbeatSessionId", channelID, true)
}

func (r *Registry) setChannel(ctx context.Context, sessionID, field, channelID string, online bool) error {
	if _, err := r.Get(ctx, sessionID); err != nil {
		return err
	}
	fields := map[string]string{
		field:            channelID,
		"lastActiveTime": strconv.FormatInt(model.Millis(r.now()), 10),
	}
	if online {
		fields["online"] = "1"
	}
	key := store.KeySession(sessionID)
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.cfg.TTL)
}

// Touch records a heartbeat: refreshes the activity timestamp, flips the
// session back online and extends the record TTL.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	if _, err := r.Get(ctx, sessionID); err != nil {
		return err
	}
	key := store.KeySession(sessionID)
	if err := r.store.HSet(ctx, key, map[string]string{
		"lastActiveTime": strconv.FormatInt(model.Millis(r.now()), 10),
		"online":         "1",
	}); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.cfg.TTL)
}

// SetOnline flips the online flag without touching timestamps.
func (r *Registry) SetOnline(ctx context.Context, sessionID string, online bool) error {
	flag := "0"
	if online {
		flag = "1"
	}
	return r.store.HSet(ctx, store.KeySession(sessionID), map[string]string{"online": flag})
}

// Delete removes a session record and its viewer-set membership.
func (r *Registry) Delete(ctx context.Context, sess *model.UserSession) error {
	if err := r.store.SRem(ctx, store.KeyRoomViewers(sess.RoomID), sess.SessionID); err != nil {
		return err
	}
	return r.store.Del(ctx, store.KeySession(sess.SessionID))
}

// IncrRoomOnline bumps the room's connection counter.
func (r *Registry) IncrRoomOnline(ctx context.Context, roomID int64) (int64, error) {
	return r.store.IncrBy(ctx, store.KeyRoomConnections(roomID), 1)
}

// DecrRoomOnline decrements the room's connection counter, flooring at zero.
func (r *Registry) DecrRoomOnline(ctx context.Context, roomID int64) (int64, error) {
	n, err := r.store.IncrBy(ctx, store.KeyRoomConnections(roomID), -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
		if err := r.store.Set(ctx, store.KeyRoomConnections(roomID), "0", 0); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// RoomOnlineCount reports the room's connection counter.
func (r *Registry) RoomOnlineCount(ctx context.Context, roomID int64) (int64, error) {
	v, ok, err := r.store.Get(ctx, store.KeyRoomConnections(roomID))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func encodeSession(s *model.UserSession) map[string]string {
	online := "0"
	if s.Online {
		online = "1"
	}
	return map[string]string{
		"sessionId":          s.SessionID,
		"userId":             strconv.FormatInt(s.UserID, 10),
		"roomId":             strconv.FormatInt(s.RoomID, 10),
		"nickname":           s.Nickname,
		"avatar":             s.Avatar,
		"ip":                 s.IP,
		"location":           s.Location,
		"dataSessionId":      s.DataSessionID,
		"heartbeatSessionId": s.HeartbeatSessionID,
		"serverId":           s.ServerID,
		"connectTime":        strconv.FormatInt(s.ConnectTime, 10),
		"lastActiveTime":     strconv.FormatInt(s.LastActiveTime, 10),
		"online":             online,
	}
}

func decodeSession(fields map[string]string) *model.UserSession {
	parse := func(k string) int64 {
		n, _ := strconv.ParseInt(fields[k], 10, 64)
		return n
	}
	return &model.UserSession{
		SessionID:          fields["sessionId"],
		UserID:             parse("userId"),
		RoomID:             parse("roomId"),
		Nickname:           fields["nickname"],
		Avatar:             fields["avatar"],
		IP:                 fields["ip"],
		Location:           fields["location"],
		DataSessionID:      fields["dataSessionId"],
		HeartbeatSessionID: fields["heartbeatSessionId"],
		ServerID:           fields["serverId"],
		ConnectTime:        parse("connectTime"),
		LastActiveTime:     parse("lastActiveTime"),
		Online:             fields["online"] == "1",
	}
}
