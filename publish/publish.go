// Package publish implements the production bus.Publisher: it encodes events as JSON
// and hands them to the active broadcast transport.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/topic"
)

const contentTypeJSON = "application/json"

// Broadcaster publishes events onto a cbus.Transport. It is safe for concurrent use.
type Broadcaster struct {
	transport  cbus.Transport
	propagator cbus.HeaderPropagator
	logger     *slog.Logger
	metrics    observability.Recorder
}

var _ cbus.Publisher = (*Broadcaster)(nil)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithPropagator injects trace context into every message's headers.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(b *Broadcaster) { b.propagator = p }
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.Recorder) Option {
	return func(b *Broadcaster) { b.metrics = r }
}

// New creates a Broadcaster over t.
func New(t cbus.Transport, opts ...Option) *Broadcaster {
	b := &Broadcaster{transport: t, propagator: cbus.NopHeaderPropagator{}}
	for _, opt := range opts {
		opt(b)
	}

	b.logger = observability.Logger(b.logger)
	b.metrics = observability.Metrics(b.metrics)

	return b
}

// Publish sends evt on evt.Topic().
func (b *Broadcaster) Publish(ctx context.Context, evt cbus.Event) error {
	return b.PublishTo(ctx, evt, evt.Topic())
}

// PublishTo sends evt on topic t. Transport failures are wrapped with ErrPublishFailed;
// context errors are returned as-is.
func (b *Broadcaster) PublishTo(ctx context.Context, evt cbus.Event, t string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish %s: transport panic: %v: %w", t, r, berr.ErrPublishFailed)
		}

		b.metrics.RecordPublish(ctx, t, err)

		if err != nil {
			b.logger.ErrorContext(ctx, "event publish failed",
				slog.String("event_id", evt.EventID()),
				slog.String("topic", t),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if b.transport == nil {
		return fmt.Errorf("publish %s: %w", t, berr.ErrTransportNotConfigured)
	}

	if _, _, err := topic.Parse(t); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	msg, err := b.encode(ctx, evt, t)
	if err != nil {
		return err
	}

	if err := b.transport.Broadcast(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("publish %s: %w", t, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// PublishAll publishes each event on its own topic. Failures are logged by PublishTo
// and never reported to the caller.
func (b *Broadcaster) PublishAll(ctx context.Context, evts ...cbus.Event) {
	for _, evt := range evts {
		_ = b.Publish(ctx, evt)
	}
}

type criticalityCarrier interface {
	Critical() bool
}

type correlationCarrier interface {
	CorrelationID() string
}

func (b *Broadcaster) encode(ctx context.Context, evt cbus.Event, t string) (cbus.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return cbus.Message{}, fmt.Errorf("publish %s serialize: %w", t, errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := map[string]string{
		cbus.HeaderEventID:     evt.EventID(),
		cbus.HeaderContentType: contentTypeJSON,
	}

	if c, ok := evt.(criticalityCarrier); ok {
		headers[cbus.HeaderCriticality] = "normal"
		if c.Critical() {
			headers[cbus.HeaderCriticality] = "critical"
		}
	}

	if c, ok := evt.(correlationCarrier); ok && c.CorrelationID() != "" {
		headers[cbus.HeaderCorrelationID] = c.CorrelationID()
	}

	b.propagator.Inject(ctx, headers)

	var key string
	if k, ok := evt.(cbus.Keyed); ok {
		key = k.PartitionKey()
	}

	return cbus.Message{Topic: t, Key: key, Body: body, Headers: headers}, nil
}
