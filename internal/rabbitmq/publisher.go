package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-router/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DelayHeader carries the delay in milliseconds for the delayed-message
// exchange
const DelayHeader = "x-delay"

// Publisher publishes with publisher confirms and retries
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	retry          reliability.RetryPolicy
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishRetries retries failed publishes with exponential backoff
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.retry = publishBackoff(retries)
	}
}

// WithRetryPolicy replaces the publish retry policy
func WithRetryPolicy(policy reliability.RetryPolicy) PublisherOption {
	return func(p *Publisher) {
		p.retry = policy
	}
}

func publishBackoff(retries int) reliability.RetryPolicy {
	policy := reliability.NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2, retries)
	policy.Retryable = IsRetryable
	return policy
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher over pool
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		retry:          publishBackoff(3),
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg to exchange with routingKey and waits for the broker
// confirm. The empty exchange is the default exchange.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	attempt := 0
	err := reliability.Retry(ctx, p.retry, func() error {
		if attempt > 0 {
			p.logger.Debug("retrying publish",
				"exchange", exchange,
				"routingKey", routingKey,
				"attempt", attempt+1,
			)
		}
		attempt++
		return p.publishWithConfirm(ctx, exchange, routingKey, msg)
	})
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// PublishDelayed sends msg through the delayed-message exchange
func (p *Publisher) PublishDelayed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, delay time.Duration) error {
	return p.Publish(ctx, exchange, routingKey, withDelay(msg, delay))
}

// withDelay copies the headers of msg and adds the delay in milliseconds
func withDelay(msg amqp.Publishing, delay time.Duration) amqp.Publishing {
	headers := make(amqp.Table, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[DelayHeader] = delay.Milliseconds()
	msg.Headers = headers
	return msg
}

func (p *Publisher) publishWithConfirm(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Put(ch)

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true, false, msg); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	select {
	case ret := <-returns:
		return fmt.Errorf("%w: %s", ErrPublishReturned, ret.ReplyText)
	case confirm := <-confirms:
		if !confirm.Ack {
			return ErrPublishNacked
		}
		return nil
	case <-time.After(p.confirmTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
