package bus

import "context"

// Message is the wire unit handed to a Transport.
type Message struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

// Delivery receives broadcast messages for one subscribed topic.
// A transport calls it serially per subscription.
type Delivery func(ctx context.Context, msg Message)

// Subscription is a live topic binding on a Transport.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the broadcast publish/subscribe primitive supplied by the environment
// (NATS, RabbitMQ, Kafka or in-memory). Delivery is best-effort and at-most-once.
// Implementations must be safe for concurrent use.
type Transport interface {
	Broadcast(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topic string, deliver Delivery) (Subscription, error)
	Close() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Header keys set by the broadcast publisher.
const (
	HeaderEventID       = "x-event-id"
	HeaderCriticality   = "x-criticality"
	HeaderCorrelationID = "x-correlation-id"
	HeaderContentType   = "content-type"
)
