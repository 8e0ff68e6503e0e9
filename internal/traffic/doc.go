// Package traffic classifies rooms into tiers by viewer count and keeps the
// per-room RoomTrafficState current in the shared store.
//
// Classification happens on periodic samples, never per message. Tier
// changes are rate-limited by an anti-flap interval: a freshly computed tier
// is discarded (logged, not erred) when the previous change is too recent.
package traffic
