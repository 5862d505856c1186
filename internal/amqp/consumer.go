package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edgewire/bridgemq-go/contracts"
)

// RouteFunc hands one inbound envelope to the router. A non-nil error
// means the message was rejected; the consumer logs it and moves on.
type RouteFunc func(env *contracts.Envelope) error

// Consumer drains the bridge's inbound queue and routes each message to
// its local service. Routing runs synchronously on the delivery
// goroutine, which is why every route operation downstream is bounded.
type Consumer struct {
	cm     *ConnectionManager
	queue  string
	route  RouteFunc
	tag    string
	logger *slog.Logger
}

// ConsumerOption configures the Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerTag sets the consumer tag.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.tag = tag
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer for the named queue.
func NewConsumer(cm *ConnectionManager, queue string, route RouteFunc, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		cm:     cm,
		queue:  queue,
		route:  route,
		tag:    "bridgemq",
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Start declares the inbound queue and begins consuming. The consume
// loop runs until ctx is cancelled or the channel dies.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.cm.Channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declaring queue %q: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consuming queue %q: %w", c.queue, err)
	}

	c.logger.Info("consuming inbound queue", "queue", c.queue)
	go c.loop(ctx, ch, deliveries)
	return nil
}

func (c *Consumer) loop(ctx context.Context, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer ch.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("inbound consume channel closed", "queue", c.queue)
				return
			}

			env := envelopeFromDelivery(d)
			if err := c.route(env); err != nil {
				c.logger.Warn("inbound message rejected",
					"messageId", env.MessageID, "error", err)
			}

			// fire and forget: the sender gets no rejection signal,
			// and an unroutable message must not sit on the queue
			if err := d.Ack(false); err != nil {
				c.logger.Warn("ack failed", "messageId", env.MessageID, "error", err)
			}
		}
	}
}

// envelopeFromDelivery maps a broker delivery onto an inbound envelope.
// Header order is not preserved by the protocol's table type, so keys
// are sorted for a deterministic serialization order downstream.
func envelopeFromDelivery(d amqp.Delivery) *contracts.Envelope {
	env := &contracts.Envelope{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
		Direction:     contracts.Inbound,
	}

	keys := make([]string, 0, len(d.Headers))
	for k := range d.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.Properties.Append(k, headerValue(d.Headers[k]))
	}
	return env
}

func headerValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
