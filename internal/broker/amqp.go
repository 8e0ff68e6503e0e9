package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// AMQP implements Broker on top of a RabbitMQ connection. A single channel
// serves topology declarations and publishes, guarded by a mutex; each
// consumer gets its own channel. Channels are invalidated after any broker
// error and reopened lazily on the next call.
type AMQP struct {
	cfg config.BrokerConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQP dials the broker and returns a ready client.
func NewAMQP(cfg config.BrokerConfig, log *slog.Logger) (*AMQP, error) {
	b := &AMQP{cfg: cfg, log: log}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureChannelLocked(); err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	return b, nil
}

// ensureChannelLocked (re)establishes the connection and the shared channel.
// Caller holds b.mu.
func (b *AMQP) ensureChannelLocked() error {
	if b.closed {
		return ErrClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.cfg.URL)
		if err != nil {
			return err
		}
		b.conn = conn
		b.ch = nil
	}
	if b.ch == nil || b.ch.IsClosed() {
		ch, err := b.conn.Channel()
		if err != nil {
			return err
		}
		b.ch = ch
	}
	return nil
}

// withChannel runs fn on the shared channel, dropping the channel on error so
// the next call reopens it. AMQP channels are dead after any server error.
func (b *AMQP) withChannel(fn func(ch *amqp.Channel) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureChannelLocked(); err != nil {
		return err
	}
	if err := fn(b.ch); err != nil {
		b.ch = nil
		return err
	}
	return nil
}

func (b *AMQP) queueArgs() amqp.Table {
	args := amqp.Table{"x-overflow": "drop-head"}
	if b.cfg.MaxQueueLength > 0 {
		args["x-max-length"] = int32(b.cfg.MaxQueueLength)
	}
	if b.cfg.MessageTTL > 0 {
		args["x-message-ttl"] = int32(b.cfg.MessageTTL / time.Millisecond)
	}
	return args
}

// DeclareBinding declares the durable topic exchange, the bounded queue and
// the routing-key binding. All three declarations are idempotent on the
// broker side.
func (b *AMQP) DeclareBinding(ctx context.Context, binding model.QueueBinding) error {
	return b.withChannel(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(binding.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", binding.Exchange, err)
		}
		if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, b.queueArgs()); err != nil {
			return fmt.Errorf("declaring queue %s: %w", binding.Queue, err)
		}
		if err := ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s to %s: %w", binding.Queue, binding.Exchange, err)
		}
		return nil
	})
}

// DeclareTransientBinding declares the exchange and a non-durable,
// auto-delete queue bound with the same routing key as the canonical
// binding. Each node declares its own transient queue so the exchange
// delivers a copy of every message to every subscribed node instead of
// round-robining one queue across them.
func (b *AMQP) DeclareTransientBinding(ctx context.Context, binding model.QueueBinding) error {
	return b.withChannel(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(binding.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", binding.Exchange, err)
		}
		if _, err := ch.QueueDeclare(binding.Queue, false, true, false, false, b.queueArgs()); err != nil {
			return fmt.Errorf("declaring queue %s: %w", binding.Queue, err)
		}
		if err := ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s to %s: %w", binding.Queue, binding.Exchange, err)
		}
		return nil
	})
}

// DeleteBinding removes the queue, then removes the exchange if nothing else
// is bound to it. A still-in-use exchange is left alone.
func (b *AMQP) DeleteBinding(ctx context.Context, binding model.QueueBinding) error {
	err := b.withChannel(func(ch *amqp.Channel) error {
		if _, err := ch.QueueDelete(binding.Queue, false, false, false); err != nil {
			return fmt.Errorf("deleting queue %s: %w", binding.Queue, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = b.withChannel(func(ch *amqp.Channel) error {
		return ch.ExchangeDelete(binding.Exchange, true, false)
	})
	if err != nil {
		var aerr *amqp.Error
		if errors.As(err, &aerr) && aerr.Code == amqp.PreconditionFailed {
			// Other queues still bound; the exchange stays.
			return nil
		}
		return fmt.Errorf("deleting exchange %s: %w", binding.Exchange, err)
	}
	return nil
}

// Publish sends body as a persistent message. Transient failures surface as
// errors for the caller's retry policy to handle.
func (b *AMQP) Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	return b.withChannel(func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	})
}

// Consume opens a dedicated channel on queue and streams deliveries until
// ctx is cancelled. If the consumer channel dies it is reopened with capped
// exponential backoff; the returned channel only closes on cancellation or
// broker shutdown.
func (b *AMQP) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	src, ch, err := b.openConsumer(queue)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go b.consumeLoop(ctx, queue, src, ch, out)
	return out, nil
}

func (b *AMQP) openConsumer(queue string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureChannelLocked(); err != nil {
		return nil, nil, err
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	src, err := ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return src, ch, nil
}

func (b *AMQP) consumeLoop(ctx context.Context, queue string, src <-chan amqp.Delivery, ch *amqp.Channel, out chan<- Delivery) {
	defer close(out)
	defer func() { ch.Close() }()

	delay := b.cfg.ReconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-src:
			if !ok {
				// Consumer died. Reopen unless we are shutting down.
				b.log.Warn("consumer channel closed, reopening",
					slog.String("queue", queue),
					slog.Duration("delay", delay))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				delay *= 2
				if delay > b.cfg.ReconnectMaxDelay {
					delay = b.cfg.ReconnectMaxDelay
				}
				newSrc, newCh, err := b.openConsumer(queue)
				if err != nil {
					if errors.Is(err, ErrClosed) {
						return
					}
					b.log.Error("reopening consumer failed",
						slog.String("queue", queue),
						slog.String("error", err.Error()))
					continue
				}
				ch.Close()
				src, ch = newSrc, newCh
				delay = b.cfg.ReconnectBaseDelay
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- Delivery{Queue: queue, MessageID: d.MessageId, Body: d.Body}:
			}
		}
	}
}

// Close shuts the connection down. Consumers observe the closure and exit.
func (b *AMQP) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.ch = nil
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
