package bus

import "context"

// Event is anything the bus can route: an envelope with identity and a topic.
// event.Envelope and event.Integration implement it.
type Event interface {
	EventID() string
	Topic() string
}

// Keyed events expose a partition key used by transports that shard (Kafka).
type Keyed interface {
	PartitionKey() string
}

// Publisher hands events to whichever transport is active.
// Implementations are selected by configuration, never at call sites.
//
// Publish and PublishTo must not panic. A failure is returned to the caller and
// never undoes the state change that produced the event.
type Publisher interface {
	// Publish sends the event on its own topic.
	Publish(ctx context.Context, evt Event) error
	// PublishTo sends the event on an explicit topic.
	PublishTo(ctx context.Context, evt Event, topic string) error
	// PublishAll sends each event on its own topic. Failures are logged, not returned.
	PublishAll(ctx context.Context, evts ...Event)
}
