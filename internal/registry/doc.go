// Package registry keeps the distributed session records. A session pairs a
// data channel with a heartbeat channel under one id and lives in the shared
// store, so any node can answer "is this user online" regardless of which
// node holds the socket.
//
// Liveness is heartbeat-driven: a session that misses heartbeats is marked
// offline, and after a further grace period its record is removed entirely.
package registry
