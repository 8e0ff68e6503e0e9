package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Key formats shared across components. Kept in one place so the registry,
// traffic monitor, topology manager and consumer never disagree on layout.

// KeyRoomViewers holds the set of session ids watching a room.
func KeyRoomViewers(roomID int64) string {
	return fmt.Sprintf("room:%d:viewers", roomID)
}

// KeyRoomConnections holds the room's atomic connection counter.
func KeyRoomConnections(roomID int64) string {
	return fmt.Sprintf("room:%d:connections", roomID)
}

// KeyRoomTraffic holds the room's serialized RoomTrafficState.
func KeyRoomTraffic(roomID int64) string {
	return fmt.Sprintf("room:%d:traffic", roomID)
}

// KeyRoomMessages holds the room's recent-message sorted set.
func KeyRoomMessages(roomID int64) string {
	return fmt.Sprintf("room:%d:messages", roomID)
}

// KeySession holds one session record hash.
func KeySession(sessionID string) string {
	return "session:" + sessionID
}

// KeyRoomExchange holds the set of exchanges bound for a room.
func KeyRoomExchange(roomID int64) string {
	return fmt.Sprintf("room:%d:exchange", roomID)
}

// KeyRoomQueue holds the set of queues bound for a room.
func KeyRoomQueue(roomID int64) string {
	return fmt.Sprintf("room:%d:queue", roomID)
}

// KeyExchangeQueues holds the queues bound to an exchange.
func KeyExchangeQueues(exchange string) string {
	return fmt.Sprintf("exchange:%s:queue", exchange)
}

// KeyQueueRoutingKeys holds the routing keys bound to a queue.
func KeyQueueRoutingKeys(queue string) string {
	return fmt.Sprintf("queue:%s:routingKey", queue)
}

// KeyRetryCount holds the consumer recovery counter for one message.
func KeyRetryCount(messageID uint64) string {
	return fmt.Sprintf("mq:retry:count:%d", messageID)
}

// KeyBindingLock is the distributed lock guarding provisioning of a binding.
func KeyBindingLock(queue string) string {
	return "lock:mq:binding:" + queue
}

// KeyBindingReady marks a binding as provisioned in the broker.
func KeyBindingReady(queue string) string {
	return fmt.Sprintf("mq:binding:%s:ready", queue)
}

// KeyBindingActive is a TTL marker refreshed on publish/consume, used by the
// idle sweep.
func KeyBindingActive(queue string) string {
	return fmt.Sprintf("mq:binding:%s:active", queue)
}

// RoomIDFromKey extracts the room id out of a "room:{id}:..." key.
func RoomIDFromKey(key string) (int64, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 || parts[0] != "room" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
