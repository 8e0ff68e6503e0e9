// Package retry holds the shared retry policy used by the message producer
// and the consumer recovery path: a fixed attempt cap with exponential
// backoff (base, 2×base, 4×base, ...).
package retry
