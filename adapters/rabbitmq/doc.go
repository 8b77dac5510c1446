/*
Package rabbitmq provides a RabbitMQ broadcast transport for the event bus.
Topics are published to a topic exchange; every subscription binds its own
exclusive auto-delete queue, so each subscriber sees every matching event.
The bundled broker reconnects with backoff and re-binds consumers after a reconnect.
*/
package rabbitmq
