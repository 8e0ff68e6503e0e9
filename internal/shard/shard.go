package shard

import (
	"hash/fnv"
	"strconv"
)

// IndexFor returns the shard index for key, in [0, shardCount). shardCount
// values below 1 are treated as 1 so callers never receive an invalid index.
func IndexFor(key string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}

	h := fnv.New32a()
	h.Write([]byte(key))

	return int(h.Sum32() % uint32(shardCount))
}

// IndexForID is IndexFor over a numeric id (room or user).
func IndexForID(id int64, shardCount int) int {
	return IndexFor(strconv.FormatInt(id, 10), shardCount)
}
