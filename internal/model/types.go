package model

import "time"

// -----------------------------------------------------------------------------
// Traffic Types
// -----------------------------------------------------------------------------

// Tier classifies a room by its current viewer traffic. The tier drives how
// many broker shards the room's messages are spread across.
type Tier int

const (
	TierCold Tier = iota // shares a pooled queue with other cold rooms
	TierNormal
	TierHot
	TierSuperHot
)

var tierNames = [...]string{"COLD", "NORMAL", "HOT", "SUPER_HOT"}

// String returns the canonical tier name.
func (t Tier) String() string {
	if t < TierCold || t > TierSuperHot {
		return "UNKNOWN"
	}
	return tierNames[t]
}

// ParseTier converts a stored tier name back to a Tier. Unknown names map to
// TierCold so a corrupt record lands a room in the shared pool rather than
// provisioning private resources for it.
func ParseTier(s string) Tier {
	for i, name := range tierNames {
		if name == s {
			return Tier(i)
		}
	}
	return TierCold
}

// RoomTrafficState is the authoritative traffic record for one room. It lives
// in the shared store and is mutated only by the traffic monitor.
type RoomTrafficState struct {
	RoomID           int64 `json:"roomId"`
	ViewerCount      int   `json:"viewerCount"`
	Tier             Tier  `json:"tier"`
	LastTierChangeAt int64 `json:"lastTierChangeAt"` // ms since epoch
}

// QueueBinding is the (exchange, queue, routing key) tuple a room's messages
// currently flow through. ShardIndex is 0 for the single-shard tiers; for
// TierCold it identifies the shared-pool bucket.
type QueueBinding struct {
	Tier       Tier   `json:"tier"`
	ShardIndex int    `json:"shardIndex"`
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	RoutingKey string `json:"routingKey"`
}

// -----------------------------------------------------------------------------
// Message Types
// -----------------------------------------------------------------------------

// DanmakuMessage is one overlay chat message. Immutable after creation; the
// ID is the only identity.
type DanmakuMessage struct {
	ID        uint64            `json:"messageId,string"`
	RoomID    int64             `json:"roomId"`
	UserID    int64             `json:"userId"`
	Content   string            `json:"content"`
	Color     string            `json:"color,omitempty"`
	Size      int               `json:"size,omitempty"`
	Position  string            `json:"position,omitempty"`
	Timestamp int64             `json:"timestamp"` // ms since epoch
	Extra     map[string]string `json:"extra,omitempty"`
}

// -----------------------------------------------------------------------------
// Session Types
// -----------------------------------------------------------------------------

// UserSession is the canonical record of one logical connection pairing.
// A session unifies two independently-established channels (data, heartbeat)
// and lives in the shared store so any node can read or update it. The node
// that holds the live socket is identified by ServerID.
type UserSession struct {
	SessionID          string `json:"sessionId"`
	UserID             int64  `json:"userId"`
	RoomID             int64  `json:"roomId"`
	Nickname           string `json:"nickname,omitempty"`
	Avatar             string `json:"avatar,omitempty"`
	IP                 string `json:"ip,omitempty"`
	Location           string `json:"location,omitempty"`
	DataSessionID      string `json:"dataSessionId,omitempty"`
	HeartbeatSessionID string `json:"heartbeatSessionId,omitempty"`
	ServerID           string `json:"serverId"`
	ConnectTime        int64  `json:"connectTime"`    // ms since epoch
	LastActiveTime     int64  `json:"lastActiveTime"` // ms since epoch
	Online             bool   `json:"online"`
}

// ActiveWithin reports whether the session's last heartbeat falls inside the
// given window ending at now.
func (s *UserSession) ActiveWithin(window time.Duration, now time.Time) bool {
	return now.UnixMilli()-s.LastActiveTime <= window.Milliseconds()
}

// Millis converts a time to the wire timestamp convention.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
