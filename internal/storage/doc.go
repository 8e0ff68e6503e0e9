// Package storage persists danmaku messages. PostgreSQL is the durable
// history; a per-room sorted-set cache in the shared store answers the hot
// "recent messages" reads without touching the database.
package storage
