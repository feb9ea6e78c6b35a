package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-router/internal/rabbitmq"
	"github.com/glimte/mmate-router/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the broker surface used by the transport, one per broker URL
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	PublishDelayed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, delay time.Duration) error
	EnsureQueue(ctx context.Context, queue string) error
	Subscribe(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error
	Close() error
}

// BrokerFactory opens a Broker for a broker URL
type BrokerFactory func(ctx context.Context, url string) (Broker, error)

type amqpBroker struct {
	manager         *rabbitmq.ConnectionManager
	pool            *rabbitmq.ChannelPool
	publisher       *rabbitmq.Publisher
	consumer        *rabbitmq.Consumer
	topology        *rabbitmq.Topology
	delayedExchange string
}

func newAMQPBroker(ctx context.Context, url string, cfg *transportConfig) (Broker, error) {
	manager := rabbitmq.NewConnectionManager(url,
		append([]rabbitmq.ConnectionOption{rabbitmq.WithConnectionLogger(cfg.logger)}, cfg.connectionOptions...)...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager, cfg.poolOptions...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	b := &amqpBroker{
		manager: manager,
		pool:    pool,
		publisher: rabbitmq.NewPublisher(pool,
			append([]rabbitmq.PublisherOption{rabbitmq.WithPublisherLogger(cfg.logger)}, cfg.publisherOptions...)...),
		consumer: rabbitmq.NewConsumer(pool,
			append([]rabbitmq.ConsumerOption{rabbitmq.WithConsumerLogger(cfg.logger)}, cfg.consumerOptions...)...),
		topology:        rabbitmq.NewTopology(pool),
		delayedExchange: cfg.delayedExchange,
	}

	if err := b.topology.DeclareDelayedExchange(ctx, cfg.delayedExchange); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *amqpBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return b.publisher.Publish(ctx, exchange, routingKey, msg)
}

func (b *amqpBroker) PublishDelayed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, delay time.Duration) error {
	return b.publisher.PublishDelayed(ctx, exchange, routingKey, msg, delay)
}

// EnsureQueue declares the queue and binds it to the delayed exchange so
// scheduled messages reach it
func (b *amqpBroker) EnsureQueue(ctx context.Context, queue string) error {
	if err := b.topology.DeclareQueue(ctx, queue); err != nil {
		return err
	}
	return b.topology.BindQueue(ctx, queue, b.delayedExchange)
}

func (b *amqpBroker) Subscribe(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error {
	return b.consumer.Subscribe(ctx, queue, handler)
}

func (b *amqpBroker) Close() error {
	b.consumer.Close()
	b.pool.Close()
	return b.manager.Close()
}

type transportConfig struct {
	logger            *slog.Logger
	delayedExchange   string
	newBroker         BrokerFactory
	connectionOptions []rabbitmq.ConnectionOption
	poolOptions       []rabbitmq.ChannelPoolOption
	publisherOptions  []rabbitmq.PublisherOption
	consumerOptions   []rabbitmq.ConsumerOption
	breakerOptions    []reliability.CircuitBreakerOption
}
