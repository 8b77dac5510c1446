// Package promote turns local domain events into integration events and publishes
// them. A Promoter registers on the Dispatcher of its bounded context at
// dispatch.PriorityPromotion, so other contexts learn about an event before local
// notification handlers run.
package promote

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/dispatch"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/observability"
)

// Rule describes how one domain event kind is promoted.
type Rule struct {
	Kind event.Kind
	// EntityKind names the entity in the integration event; empty keeps the aggregate kind.
	EntityKind string
	// Fields, when set, is the payload allowlist.
	Fields []string
	// Internal keys are always stripped.
	Internal []string
	// Translate, when set, builds the payload and overrides Fields.
	Translate func(evt *event.Envelope) event.Payload
}

// Registrar is the part of a Dispatcher a Promoter needs.
type Registrar interface {
	Subscribe(bounded string, kind event.Kind, fn cbus.LocalHandler, opts ...dispatch.Option) error
}

var _ Registrar = (*dispatch.Dispatcher)(nil)

// Promoter publishes integration events for the kinds it has rules for.
type Promoter struct {
	source    string
	publisher cbus.Publisher
	logger    *slog.Logger
	rules     map[event.Kind]Rule
	order     []event.Kind
}

// New creates a Promoter for the source bounded context.
func New(source string, p cbus.Publisher, logger *slog.Logger, rules ...Rule) (*Promoter, error) {
	if source == "" {
		return nil, fmt.Errorf("promote: %w: empty source context", berr.ErrUnknownEventKind)
	}

	if p == nil {
		return nil, fmt.Errorf("promote %s: %w", source, berr.ErrTransportNotConfigured)
	}

	pr := &Promoter{
		source:    source,
		publisher: p,
		logger:    observability.Logger(logger),
		rules:     make(map[event.Kind]Rule, len(rules)),
	}

	for _, r := range rules {
		if r.Kind == "" {
			return nil, fmt.Errorf("promote %s: %w: empty kind", source, berr.ErrUnknownEventKind)
		}

		if _, exists := pr.rules[r.Kind]; exists {
			return nil, fmt.Errorf("promote %s/%s: %w", source, r.Kind, berr.ErrHandlerExists)
		}

		pr.rules[r.Kind] = r
		pr.order = append(pr.order, r.Kind)
	}

	return pr, nil
}

// Source returns the bounded context the Promoter speaks for.
func (p *Promoter) Source() string { return p.source }

// Kinds lists promoted kinds in rule order.
func (p *Promoter) Kinds() []event.Kind { return slices.Clone(p.order) }

// Register subscribes one handler per rule on d, named promote:<kind>.
func (p *Promoter) Register(d Registrar) error {
	for _, kind := range p.order {
		err := d.Subscribe(p.source, kind, p.Handle,
			dispatch.WithPriority(dispatch.PriorityPromotion),
			dispatch.WithName("promote:"+string(kind)),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// Promote builds the integration event for evt without publishing it.
func (p *Promoter) Promote(evt *event.Envelope) (*event.Integration, error) {
	rule, ok := p.rules[evt.Kind()]
	if !ok {
		return nil, fmt.Errorf("promote %s/%s: %w", p.source, evt.Kind(), berr.ErrUnknownEventKind)
	}

	var payload event.Payload

	switch {
	case rule.Translate != nil:
		payload = rule.Translate(evt)
	case len(rule.Fields) > 0:
		src := evt.Payload()
		payload = make(event.Payload, len(rule.Fields))

		for _, f := range rule.Fields {
			if v, ok := src[f]; ok {
				payload[f] = v
			}
		}
	default:
		payload = evt.Payload()
	}

	payload = payload.Clone()
	for _, k := range rule.Internal {
		delete(payload, k)
	}

	if dropped := payload.NonPrimitiveKeys(); len(dropped) > 0 {
		p.logger.Warn("non-primitive payload values stripped",
			slog.String("context", p.source),
			slog.String("event_kind", string(evt.Kind())),
			slog.String("event_id", evt.ID()),
			slog.Any("keys", dropped),
		)
	}

	return event.NewIntegration(p.source, evt, rule.EntityKind, payload), nil
}

// Handle promotes and publishes evt. It is the dispatch.LocalHandler Register installs.
func (p *Promoter) Handle(ctx context.Context, evt *event.Envelope) error {
	integ, err := p.Promote(evt)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, integ); err != nil {
		return fmt.Errorf("promote %s/%s: %w", p.source, evt.Kind(), err)
	}

	p.logger.DebugContext(ctx, "event promoted",
		slog.String("context", p.source),
		slog.String("event_kind", string(evt.Kind())),
		slog.String("event_id", integ.ID()),
		slog.String("topic", integ.Topic()),
	)

	return nil
}
