package topology

import (
	"fmt"
	"strings"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// ColdExchange is the single exchange shared by every cold room.
const ColdExchange = "danmaku.exchange.shared"

const coldQueuePrefix = "danmaku.queue.cold."

// RoomExchange names the private exchange of a non-cold room.
func RoomExchange(roomID int64) string {
	return fmt.Sprintf("danmaku.exchange.%d", roomID)
}

// BindingFor returns the binding for a room at the given tier and shard
// index. Cold bindings ignore roomID: the shard index alone identifies the
// shared-pool bucket.
func BindingFor(tier model.Tier, roomID int64, shardIndex int) model.QueueBinding {
	switch tier {
	case model.TierCold:
		return model.QueueBinding{
			Tier:       tier,
			ShardIndex: shardIndex,
			Exchange:   ColdExchange,
			Queue:      fmt.Sprintf("%s%d", coldQueuePrefix, shardIndex),
			RoutingKey: fmt.Sprintf("danmaku.cold.%d", shardIndex),
		}
	case model.TierNormal:
		return model.QueueBinding{
			Tier:       tier,
			ShardIndex: 0,
			Exchange:   RoomExchange(roomID),
			Queue:      fmt.Sprintf("danmaku.queue.%d", roomID),
			RoutingKey: fmt.Sprintf("danmaku.room.%d.0", roomID),
		}
	default:
		return model.QueueBinding{
			Tier:       tier,
			ShardIndex: shardIndex,
			Exchange:   RoomExchange(roomID),
			Queue:      fmt.Sprintf("danmaku.queue.%d.%d", roomID, shardIndex),
			RoutingKey: fmt.Sprintf("danmaku.room.%d.%d", roomID, shardIndex),
		}
	}
}

// NodeBinding derives a node-private copy of a binding: same exchange and
// routing key, queue name suffixed with the node id. Every node consumes its
// own copy so the exchange fans each message out to all of them.
func NodeBinding(b model.QueueBinding, nodeID string) model.QueueBinding {
	b.Queue = fmt.Sprintf("%s.%s", b.Queue, nodeID)
	return b
}

// IsColdQueue reports whether queue belongs to the shared cold pool, which
// is provisioned once at startup and never swept.
func IsColdQueue(queue string) bool {
	return strings.HasPrefix(queue, coldQueuePrefix)
}
