package rabbitmq

import (
	"log/slog"

	"github.com/glimte/mmate-router/internal/rabbitmq"
	"github.com/glimte/mmate-router/internal/reliability"
)

// TransportOption configures the transport
type TransportOption func(*transportConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *transportConfig) {
		cfg.logger = logger
	}
}

// WithDelayedExchange sets the delayed-message exchange used for scheduled
// dispatch
func WithDelayedExchange(name string) TransportOption {
	return func(cfg *transportConfig) {
		cfg.delayedExchange = name
	}
}

// WithBrokerFactory replaces the AMQP broker, mainly for tests
func WithBrokerFactory(factory BrokerFactory) TransportOption {
	return func(cfg *transportConfig) {
		cfg.newBroker = factory
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *transportConfig) {
		cfg.connectionOptions = append(cfg.connectionOptions, opts...)
	}
}

// WithChannelPoolOptions sets channel pool options
func WithChannelPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *transportConfig) {
		cfg.poolOptions = append(cfg.poolOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *transportConfig) {
		cfg.publisherOptions = append(cfg.publisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *transportConfig) {
		cfg.consumerOptions = append(cfg.consumerOptions, opts...)
	}
}

// WithCircuitBreaker configures the per-broker dispatch circuit breaker
func WithCircuitBreaker(opts ...reliability.CircuitBreakerOption) TransportOption {
	return func(cfg *transportConfig) {
		cfg.breakerOptions = append(cfg.breakerOptions, opts...)
	}
}
