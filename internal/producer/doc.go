// Package producer is the ingest side of the push pipeline. It validates a
// message, resolves the room's current tier to a broker binding, and
// publishes with bounded retries.
package producer
