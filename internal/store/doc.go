// Package store defines the narrow shared-store interface the registry,
// traffic, and topology components use, plus a Redis-backed implementation
// for production and an in-memory implementation for tests.
//
// The interface deliberately exposes only the handful of operations the
// platform needs; components receive a Store handle at construction and never
// own the underlying client lifecycle.
package store
