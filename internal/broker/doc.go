// Package broker abstracts the message broker behind a narrow interface and
// provides the RabbitMQ (AMQP 0-9-1) implementation.
//
// The topology manager declares and deletes bindings through it, the
// producer publishes, and consumers drain queues. Components receive a
// Broker handle at construction; the process bootstrap owns the connection
// lifecycle.
package broker
