package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DelayedExchangeType is the exchange type of the delayed-message plugin
const DelayedExchangeType = "x-delayed-message"

// Topology declares the queues and exchanges endpoints rely on
type Topology struct {
	pool *ChannelPool
}

// NewTopology creates a topology helper over pool
func NewTopology(pool *ChannelPool) *Topology {
	return &Topology{pool: pool}
}

// DeclareQueue declares a durable queue named after an entity path
func (t *Topology) DeclareQueue(ctx context.Context, name string) error {
	return t.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		return nil
	})
}

// DeclareDelayedExchange declares a direct-routing delayed-message exchange
func (t *Topology) DeclareDelayedExchange(ctx context.Context, name string) error {
	return t.pool.Execute(ctx, func(ch *amqp.Channel) error {
		args := amqp.Table{"x-delayed-type": "direct"}
		if err := ch.ExchangeDeclare(name, DelayedExchangeType, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare delayed exchange %s: %w", name, err)
		}
		return nil
	})
}

// BindQueue binds queue to exchange with the queue name as routing key
func (t *Topology) BindQueue(ctx context.Context, queue, exchange string) error {
	return t.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", queue, exchange, err)
		}
		return nil
	})
}
