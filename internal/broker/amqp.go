package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/logger"
)

// ErrClosed is returned when the underlying connection or channel is gone.
// There is no reconnect loop here: losing the connection is fatal to the
// owning bridge and dispatcher, reconnection is the caller's policy.
var ErrClosed = errors.New("broker: connection closed")

type AMQPTransport struct {
	cfg    config.RabbitMQConfig
	logger logger.Logger

	conn    *amqp.Connection
	channel *amqp.Channel

	replyQueue string

	mu     sync.Mutex
	closed bool
}

func NewAMQPTransport(cfg config.RabbitMQConfig, log logger.Logger) *AMQPTransport {
	return &AMQPTransport{cfg: cfg, logger: log}
}

// Connect dials the broker, declares the durable topic exchange and the
// exclusive auto-deleting reply queue this process receives RPC replies on.
func (t *AMQPTransport) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	prefetch := t.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	if err := ch.ExchangeDeclare(
		t.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", t.cfg.Exchange, err)
	}

	replyQueue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	t.conn = conn
	t.channel = ch
	t.replyQueue = replyQueue.Name

	t.logger.InfowCtx(ctx, "Connected to broker",
		"exchange", t.cfg.Exchange,
		"reply_queue", t.replyQueue,
	)
	return nil
}

func (t *AMQPTransport) ReplyQueue() string {
	return t.replyQueue
}

func (t *AMQPTransport) PublishEvent(ctx context.Context, routingKey string, body []byte, correlationID string) error {
	return t.publish(ctx, t.cfg.Exchange, routingKey, body, correlationID, "")
}

func (t *AMQPTransport) PublishRequest(ctx context.Context, route Route, body []byte, correlationID string) error {
	exchange := t.cfg.Exchange
	if route.Direct {
		exchange = "" // default exchange, routing key is the queue name
	}
	return t.publish(ctx, exchange, route.Key, body, correlationID, t.replyQueue)
}

func (t *AMQPTransport) publish(ctx context.Context, exchange, routingKey string, body []byte, correlationID, replyTo string) error {
	t.mu.Lock()
	if t.closed || t.channel == nil {
		t.mu.Unlock()
		return ErrClosed
	}
	ch := t.channel
	t.mu.Unlock()

	err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		DeliveryMode:  amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %q: %w", routingKey, err)
	}
	return nil
}

// ConsumeReplies drains the exclusive reply queue and hands each delivery to
// handler. Exactly one caller (the RPC bridge) is expected.
func (t *AMQPTransport) ConsumeReplies(ctx context.Context, handler HandlerFunc) error {
	deliveries, err := t.channel.Consume(
		t.replyQueue,
		"",    // consumer tag
		true,  // auto-ack, replies are best-effort
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume reply queue: %w", err)
	}

	return t.drain(ctx, deliveries, handler, false)
}

// ConsumeCommands declares a durable queue bound to the topic exchange with
// the given keys and feeds inbound commands to handler.
func (t *AMQPTransport) ConsumeCommands(ctx context.Context, queue string, bindingKeys []string, handler HandlerFunc) error {
	q, err := t.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare command queue %s: %w", queue, err)
	}

	for _, key := range bindingKeys {
		if err := t.channel.QueueBind(q.Name, key, t.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", key, q.Name, err)
		}
	}

	deliveries, err := t.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", q.Name, err)
	}

	t.logger.InfowCtx(ctx, "Started consuming commands",
		"queue", q.Name,
		"binding_keys", bindingKeys,
	)

	return t.drain(ctx, deliveries, handler, true)
}

func (t *AMQPTransport) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler HandlerFunc, ack bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrClosed
			}
			handler(ctx, Delivery{
				RoutingKey:    d.RoutingKey,
				CorrelationID: d.CorrelationId,
				Body:          d.Body,
			})
			if ack {
				if err := d.Ack(false); err != nil {
					t.logger.ErrorwCtx(ctx, "Failed to ack delivery",
						"error", err,
						"routing_key", d.RoutingKey,
					)
				}
			}
		}
	}
}

// Close releases the channel and connection. Safe to call more than once.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if t.channel != nil {
		err = t.channel.Close()
	}
	if t.conn != nil {
		if closeErr := t.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Connected reports whether the underlying connection is still usable.
func (t *AMQPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.conn != nil && !t.conn.IsClosed()
}
