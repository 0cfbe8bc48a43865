package messaging

import (
	"fmt"

	"product-inventory/internal/products"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKindDirect = "direct"

type Topology struct {
	OrderExchange   string
	ProductExchange string
	OrderQueue      string
}

// DeclareTopology idempotently declares the durable exchanges and the order
// queue binding the consumer relies on.
func DeclareTopology(conn *amqp.Connection, t Topology) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	for _, exchange := range []string{t.OrderExchange, t.ProductExchange} {
		if err := ch.ExchangeDeclare(
			exchange,
			exchangeKindDirect,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
	}

	if _, err := ch.QueueDeclare(
		t.OrderQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %q: %w", t.OrderQueue, err)
	}

	if err := ch.QueueBind(t.OrderQueue, products.TopicOrderCreated, t.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q to %q: %w", t.OrderQueue, t.OrderExchange, err)
	}

	return nil
}
