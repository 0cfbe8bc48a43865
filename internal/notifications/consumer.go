package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"product-inventory/internal/products"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const consumerTag = "notifications-service"

var ErrDeliveriesClosed = errors.New("product event deliveries channel closed")

// Topics lists the product events the listener subscribes to.
var Topics = []string{
	products.TopicProductCreated,
	products.TopicProductNotFound,
	products.TopicStockInsufficient,
}

type Consumer struct {
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// NewConsumer declares a durable queue and binds it to exchange for every
// product topic.
func NewConsumer(conn *amqp.Connection, exchange, queue string, logger *slog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Same arguments as the product service, so either process may start first.
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}

	for _, topic := range Topics {
		if err := ch.QueueBind(queue, topic, exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("bind queue %q to %s: %w", queue, topic, err)
		}
	}

	return &Consumer{
		channel: ch,
		queue:   queue,
		logger:  logger,
	}, nil
}

func (c *Consumer) Listen(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		consumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			c.settle(&msg)
		}
	}
}

func (c *Consumer) settle(msg *amqp.Delivery) {
	if err := c.handleMessage(msg); err != nil {
		c.logger.Error("handle message failed",
			"message_id", msg.MessageId,
			"error", err,
		)
		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

func (c *Consumer) handleMessage(msg *amqp.Delivery) error {
	var payload map[string]any
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return fmt.Errorf("unmarshal %s event: %w", topicOf(msg), err)
	}

	c.logger.Info("notification event",
		"topic", topicOf(msg),
		"message_id", msg.MessageId,
		"trace_id", traceID(msg.Headers),
		"payload", payload,
	)

	return nil
}

// traceID returns the upstream trace id carried in the message headers, or
// an empty string.
func traceID(headers amqp.Table) string {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier.Set(k, s)
		}
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// topicOf prefers the message type and falls back to the routing key.
func topicOf(msg *amqp.Delivery) string {
	if msg.Type != "" {
		return msg.Type
	}
	return msg.RoutingKey
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
