package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"product-inventory/internal/products"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	orderConsumerTag = "product-service"

	ResultAck     = "ack"
	ResultRequeue = "requeue"
	ResultDiscard = "discard"
)

var ErrDeliveriesClosed = errors.New("order deliveries channel closed")

type Decrementer interface {
	Decrement(ctx context.Context, orderID, productID int64, qty int) (products.DecrementResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event products.Event) error
}

type ConsumerConfig struct {
	Queue         string
	Prefetch      int
	HandleTimeout time.Duration
}

// OrderConsumer turns order.created messages into stock decrements. At most
// Prefetch messages are in flight at once.
type OrderConsumer struct {
	channel       *amqp.Channel
	queue         string
	prefetch      int
	handleTimeout time.Duration
	stock         Decrementer
	publisher     EventPublisher
	logger        *slog.Logger
	messages      *prometheus.CounterVec
}

// NewOrderConsumer expects messages to be labelled by "result".
func NewOrderConsumer(
	conn *amqp.Connection,
	cfg ConsumerConfig,
	stock Decrementer,
	publisher EventPublisher,
	logger *slog.Logger,
	messages *prometheus.CounterVec,
) (*OrderConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := newOrderConsumer(cfg, stock, publisher, logger, messages)
	c.channel = ch
	return c, nil
}

func newOrderConsumer(cfg ConsumerConfig, stock Decrementer, publisher EventPublisher, logger *slog.Logger, messages *prometheus.CounterVec) *OrderConsumer {
	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &OrderConsumer{
		queue:         cfg.Queue,
		prefetch:      prefetch,
		handleTimeout: cfg.HandleTimeout,
		stock:         stock,
		publisher:     publisher,
		logger:        logger,
		messages:      messages,
	}
}

// Listen consumes until ctx is cancelled, then waits for in-flight messages.
// Unsettled prefetched messages go back to the queue when the channel closes.
func (c *OrderConsumer) Listen(ctx context.Context) error {
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queue,
		orderConsumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", c.queue, err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.channel.Cancel(orderConsumerTag, false); err != nil {
			c.logger.Warn("cancel order consumer", "error", err)
		}
	})
	defer stop()

	return c.consume(ctx, msgs)
}

func (c *OrderConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	var g errgroup.Group
	g.SetLimit(c.prefetch)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case msg, ok := <-msgs:
			if !ok {
				_ = g.Wait()
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}

			d := NewDelivery(msg)
			g.Go(func() error {
				c.handle(ctx, d)
				return nil
			})
		}
	}
}

// handle settles d exactly once. Processing is detached from shutdown so an
// in-flight decrement is never cut off halfway.
func (c *OrderConsumer) handle(ctx context.Context, d *Delivery) {
	ctx = context.WithoutCancel(ctx)
	if c.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handleTimeout)
		defer cancel()
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers()))
	ctx, span := otel.Tracer(tracerName).Start(ctx, products.TopicOrderCreated+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source.name", c.queue),
			attribute.String("messaging.message.id", d.MessageID()),
		),
	)
	defer span.End()

	result, err := c.process(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	var settleErr error
	switch result {
	case ResultAck:
		settleErr = d.Ack()
	case ResultDiscard:
		settleErr = d.Discard()
	default:
		settleErr = d.Requeue()
	}
	if settleErr != nil {
		c.logger.Error("settle order message failed",
			"message_id", d.MessageID(),
			"result", result,
			"error", settleErr,
		)
	}

	c.messages.WithLabelValues(result).Inc()
}

func (c *OrderConsumer) process(ctx context.Context, d *Delivery) (string, error) {
	var order products.OrderCreated
	if err := json.Unmarshal(d.Body(), &order); err != nil {
		c.logger.Warn("discarding undecodable order message",
			"message_id", d.MessageID(),
			"error", err,
		)
		return ResultDiscard, fmt.Errorf("decode order: %w", err)
	}
	if err := products.ValidateOrder(order); err != nil {
		c.logger.Warn("discarding invalid order message",
			"message_id", d.MessageID(),
			"order_id", order.OrderID,
			"product_id", order.ProductID,
			"qty", order.Qty,
			"error", err,
		)
		return ResultDiscard, err
	}

	result, err := c.stock.Decrement(ctx, order.OrderID, order.ProductID, order.Qty)
	if err != nil {
		c.logger.Error("decrement stock failed, requeueing",
			"order_id", order.OrderID,
			"product_id", order.ProductID,
			"redelivered", d.Redelivered(),
			"error", err,
		)
		return ResultRequeue, err
	}

	switch result.Outcome {
	case products.OutcomeProductNotFound:
		c.publish(ctx, products.ProductNotFound{
			OrderID:   order.OrderID,
			ProductID: order.ProductID,
		})
	case products.OutcomeStockInsufficient:
		c.publish(ctx, products.StockInsufficient{
			OrderID:   order.OrderID,
			ProductID: order.ProductID,
			Requested: result.Requested,
			Available: result.Available,
		})
	}

	return ResultAck, nil
}

// publish is fire-and-forget: a lost event never sends the order back.
func (c *OrderConsumer) publish(ctx context.Context, event products.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Error("publish event failed",
			"topic", event.Topic(),
			"error", err,
		)
	}
}

func (c *OrderConsumer) Close() error {
	return c.channel.Close()
}
