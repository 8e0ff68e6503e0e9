// Package idgen produces globally unique, time-ordered 64-bit identifiers
// for messages and sessions (snowflake layout).
//
// Layout, high to low bits: 41-bit millisecond timestamp offset from a fixed
// epoch, 5-bit datacenter id, 5-bit worker id, 12-bit per-millisecond
// sequence. Uniqueness across processes requires distinct
// (datacenterID, workerID) pairs.
package idgen
