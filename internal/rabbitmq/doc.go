// Package rabbitmq holds the broker plumbing behind the RabbitMQ transport.
//
// This package includes:
//   - ConnectionManager: one connection per broker URL with reconnection
//   - ChannelPool: pooled AMQP channels
//   - Publisher: confirmed publishing to the default or the delayed exchange
//   - Consumer: per-queue consumption with ack on success, nack on failure
//   - Topology: endpoint queues and the delayed-message exchange
package rabbitmq
