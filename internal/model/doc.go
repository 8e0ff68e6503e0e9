// Package model defines shared data types used across the barrage push platform.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch (matches the wire format)
//   - Message IDs: uint64 snowflake ids from internal/idgen
//   - Session/channel IDs: opaque strings (UUIDs)
package model
