package messaging

import (
	"errors"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrAlreadySettled = errors.New("delivery already settled")

// Delivery wraps a broker message so that exactly one of Ack, Requeue or
// Discard reaches the broker.
type Delivery struct {
	msg     amqp.Delivery
	settled atomic.Bool
}

func NewDelivery(msg amqp.Delivery) *Delivery {
	return &Delivery{msg: msg}
}

func (d *Delivery) Body() []byte { return d.msg.Body }

func (d *Delivery) Headers() amqp.Table { return d.msg.Headers }

func (d *Delivery) Redelivered() bool { return d.msg.Redelivered }

func (d *Delivery) MessageID() string { return d.msg.MessageId }

func (d *Delivery) Settled() bool { return d.settled.Load() }

// Ack removes the message from the queue.
func (d *Delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.msg.Ack(false)
}

// Requeue hands the message back to the broker for redelivery.
func (d *Delivery) Requeue() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.msg.Nack(false, true)
}

// Discard rejects the message without requeue; the broker drops it or routes
// it to a dead-letter exchange if the queue has one.
func (d *Delivery) Discard() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.msg.Nack(false, false)
}
