package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. A nil error acks it; an error
// nacks it with requeue.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer consumes endpoint queues
type Consumer struct {
	pool           *ChannelPool
	prefetchCount  int
	handlerTimeout time.Duration
	logger         *slog.Logger
	active         sync.Map // queue -> *subscription
}

type subscription struct {
	channel *PooledChannel
	cancel  context.CancelFunc
	done    chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithHandlerTimeout bounds a single handler invocation
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer over pool
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:           pool,
		prefetchCount:  10,
		handlerTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming queue until ctx is cancelled or Unsubscribe
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler) error {
	if _, exists := c.active.Load(queue); exists {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadyConsuming, Timestamp: time.Now()}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := ch.Consume(queue, ch.ID, false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{channel: ch, cancel: cancel, done: make(chan struct{})}
	if _, loaded := c.active.LoadOrStore(queue, sub); loaded {
		cancel()
		ch.Cancel(ch.ID, false)
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadyConsuming, Timestamp: time.Now()}
	}

	go c.process(subCtx, queue, sub, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", ch.ID,
		"prefetchCount", c.prefetchCount,
	)
	return nil
}

func (c *Consumer) process(ctx context.Context, queue string, sub *subscription, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		sub.channel.Cancel(sub.channel.ID, false)
		c.pool.Put(sub.channel)
		c.active.Delete(queue)
		close(sub.done)
		c.logger.Info("consumer stopped", "queue", queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", queue)
				return
			}
			c.handle(ctx, queue, delivery, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, queue string, delivery amqp.Delivery, handler DeliveryHandler) {
	msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	if err := handler(msgCtx, delivery); err != nil {
		c.logger.Error("failed to handle delivery",
			"queue", queue,
			"messageId", delivery.MessageId,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack delivery", "queue", queue, "error", nackErr)
		}
		return
	}
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack delivery", "queue", queue, "error", err)
	}
}

// Unsubscribe stops consuming queue and waits for the consumer to exit
func (c *Consumer) Unsubscribe(queue string) error {
	v, ok := c.active.Load(queue)
	if !ok {
		return &ConsumerError{Queue: queue, Op: "unsubscribe", Err: ErrNotConsuming, Timestamp: time.Now()}
	}
	sub := v.(*subscription)
	sub.cancel()
	<-sub.done
	return nil
}

// Queues returns the queues currently consumed
func (c *Consumer) Queues() []string {
	var queues []string
	c.active.Range(func(key, _ interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}

// Close stops every subscription
func (c *Consumer) Close() error {
	for _, queue := range c.Queues() {
		if err := c.Unsubscribe(queue); err != nil {
			c.logger.Warn("failed to unsubscribe", "queue", queue, "error", err)
		}
	}
	return nil
}
