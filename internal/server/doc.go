// Package server exposes the node's outer surface: the REST API for sending
// messages and reading backlog, and the two WebSocket endpoints viewers hold
// open, one for data and one for heartbeats.
package server
