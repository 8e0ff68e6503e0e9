// Package shard provides deterministic hash-based shard selection.
//
// The hash is FNV-1a, which is stable across processes and Go versions; the
// same key always lands on the same shard no matter which node computes it.
package shard
