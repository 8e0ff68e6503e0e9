// Package topology owns the broker-side layout of exchanges, queues and
// routing keys, sized per room tier.
//
// Cold rooms share a fixed pool of queues on one exchange, bucketed by room
// id. Every other tier gets a private exchange per room, with hot and
// super-hot rooms fanning out over several queues keyed by sender. The
// manager provisions bindings idempotently behind a distributed lock,
// records the layout in the shared store, and sweeps bindings for rooms
// that have gone quiet.
package topology
