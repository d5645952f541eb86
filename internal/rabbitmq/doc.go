// Package rabbitmq provides the RabbitMQ connection handling used by the
// AMQP queue backend.
//
// This package includes:
//   - ConnectionManager: Dials the broker, opens channels and reconnects with
//     exponential backoff when the connection drops
//   - Typed connection and channel errors with sanitized broker URLs
package rabbitmq
