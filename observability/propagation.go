package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// OTelPropagator carries trace context in message headers using the global
// OTel text map propagator.
type OTelPropagator struct {
	// Propagator overrides the global propagator when set.
	Propagator propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = OTelPropagator{}

func (p OTelPropagator) propagator() propagation.TextMapPropagator {
	if p.Propagator != nil {
		return p.Propagator
	}

	return otel.GetTextMapPropagator()
}

func (p OTelPropagator) Inject(ctx context.Context, headers map[string]string) {
	p.propagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (p OTelPropagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return p.propagator().Extract(ctx, propagation.MapCarrier(headers))
}
