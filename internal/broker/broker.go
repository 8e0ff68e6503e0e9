package broker

import (
	"context"
	"errors"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// ErrClosed is returned by operations on a broker that has been shut down.
var ErrClosed = errors.New("broker: closed")

// Delivery is a single message read from a queue.
type Delivery struct {
	Queue     string
	MessageID string
	Body      []byte
}

// Publisher is the write side of a broker. The producer pipeline depends on
// this rather than the full Broker so tests can substitute a recorder.
type Publisher interface {
	// Publish sends body to the exchange with the given routing key. The
	// message id travels in broker metadata so the retry path can count
	// attempts without parsing the payload.
	Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
}

// Broker is the full broker surface: topology management, publishing and
// consuming.
type Broker interface {
	Publisher

	// DeclareBinding creates the exchange, queue and routing-key binding
	// described by b. Declaring an existing binding is a no-op, so callers
	// may invoke it without checking prior state.
	DeclareBinding(ctx context.Context, b model.QueueBinding) error

	// DeleteBinding removes the queue and, when no queues remain bound to
	// it, the exchange.
	DeleteBinding(ctx context.Context, b model.QueueBinding) error

	// DeclareTransientBinding creates a node-private, auto-delete copy of a
	// binding. The queue disappears when its last consumer disconnects, so
	// every node can hold its own copy of a room's deliveries without
	// leaving queues behind.
	DeclareTransientBinding(ctx context.Context, b model.QueueBinding) error

	// Consume opens a consumer on queue and returns a channel of
	// deliveries. The channel closes when ctx is cancelled or the
	// underlying consumer dies.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Close tears down the broker connection.
	Close() error
}
