// Package consumer drains broker queues and fans messages out to the local
// WebSocket connections. Each node consumes node-private copies of the
// shared cold pool plus the queues of whichever rooms currently have
// viewers connected here, bound with the canonical routing keys so every
// node receives every message rather than competing for one queue. The set
// is re-evaluated on a short interval as viewers come and go.
package consumer
