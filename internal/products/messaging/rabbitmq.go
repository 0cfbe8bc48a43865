package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"product-inventory/internal/products"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	contentTypeJSON = "application/json"
	tracerName      = "product-inventory/messaging"
)

// RabbitPublisher emits domain events to a direct exchange without waiting
// for broker confirms.
type RabbitPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewRabbitPublisher(conn *amqp.Connection, exchange string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitPublisher{
		channel:  ch,
		exchange: exchange,
	}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event products.Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Topic(), err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, event.Topic()+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", event.Topic()),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         event.Topic(),
		Headers:      headers,
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, event.Topic(), false, false, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s to %q: %w", event.Topic(), p.exchange, err)
	}

	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}
