package subscriber

import (
	"context"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/topic"
)

type funcHandler struct {
	kinds []event.Kind
	fn    func(ctx context.Context, evt *event.Integration) error
}

func (h funcHandler) SubscribedEvents() []event.Kind { return h.kinds }

func (h funcHandler) HandleEvent(ctx context.Context, evt *event.Integration) error {
	return h.fn(ctx, evt)
}

// HandlerFunc adapts fn to cbus.EventHandler declaring kinds.
func HandlerFunc(kinds []event.Kind, fn func(ctx context.Context, evt *event.Integration) error) cbus.EventHandler { //nolint:ireturn
	return funcHandler{kinds: kinds, fn: fn}
}

// Topics builds the topics of aggregate for every kind h declares.
func Topics(aggregate string, h cbus.EventHandler) []string {
	kinds := h.SubscribedEvents()
	out := make([]string, 0, len(kinds))

	for _, k := range kinds {
		out = append(out, topic.Build(aggregate, string(k)))
	}

	return out
}
