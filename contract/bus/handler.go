package bus

import (
	"context"

	"github.com/next-trace/scg-event-bus/event"
)

// EventHandler is the capability a cross-context subscriber worker consumes.
//
// SubscribedEvents is declarative (documentation and registration); workers do not
// filter on it. Filtering happens at the topic level, so HandleEvent must return an
// error wrapping errors.ErrIgnored for any kind it does not recognise.
//
// Implementations are invoked from a single worker goroutine.
type EventHandler interface {
	SubscribedEvents() []event.Kind
	HandleEvent(ctx context.Context, evt *event.Integration) error
}

// LocalHandler handles a domain event inside its own bounded context.
type LocalHandler func(ctx context.Context, evt *event.Envelope) error
