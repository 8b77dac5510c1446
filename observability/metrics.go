package observability

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes recorded by subscriber workers.
const (
	OutcomeHandled = "handled"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Retry outcomes.
const (
	RetrySucceeded      = "succeeded"
	RetryRecovered      = "recovered"
	RetryAlreadyApplied = "already_applied"
	RetryExhausted      = "exhausted"
	RetryFailed         = "failed"
)

// Recorder records event bus metrics.
// Use NewRecorder() for OTel metrics or Noop{} when disabled.
type Recorder interface {
	// RecordPublish records one publish attempt on a topic.
	RecordPublish(ctx context.Context, topic string, err error)

	// RecordDispatch records a local fan-out with the number of handlers run and failed.
	RecordDispatch(ctx context.Context, boundedContext, kind string, handlers, failed int)

	// RecordDelivery records how a subscriber worker disposed of a message.
	RecordDelivery(ctx context.Context, subscriber, topic, outcome string)

	// RecordSubscriberFault records a worker crash at the supervision boundary.
	RecordSubscriberFault(ctx context.Context, subscriber string)

	// RecordRetry records the final outcome of a retry-wrapped operation.
	RecordRetry(ctx context.Context, operation, outcome string)
}

type otelRecorder struct {
	publishes        metric.Int64Counter
	publishErrors    metric.Int64Counter
	dispatchHandlers metric.Int64Counter
	dispatchFailures metric.Int64Counter
	deliveries       metric.Int64Counter
	faults           metric.Int64Counter
	retries          metric.Int64Counter
}

var (
	defaultRecorder     Recorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

// NewRecorder returns a Recorder on the global OTel meter provider.
// If initialization fails, it returns Noop.
//
// Configure the provider before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewRecorder() Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = NewRecorderFor(otel.GetMeterProvider())
	})

	if defaultRecorderErr != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", defaultRecorderErr.Error()))
		return Noop{}
	}

	return defaultRecorder
}

// NewRecorderFor builds a recorder on an explicit meter provider.
func NewRecorderFor(mp metric.MeterProvider) (Recorder, error) {
	meter := mp.Meter("scg-event-bus")

	var (
		r   otelRecorder
		err error
	)

	if r.publishes, err = meter.Int64Counter("eventbus.publish.total",
		metric.WithDescription("Number of publish attempts"),
	); err != nil {
		return nil, err
	}

	if r.publishErrors, err = meter.Int64Counter("eventbus.publish.errors",
		metric.WithDescription("Number of failed publish attempts"),
	); err != nil {
		return nil, err
	}

	if r.dispatchHandlers, err = meter.Int64Counter("eventbus.dispatch.handlers",
		metric.WithDescription("Number of local handler invocations"),
	); err != nil {
		return nil, err
	}

	if r.dispatchFailures, err = meter.Int64Counter("eventbus.dispatch.failures",
		metric.WithDescription("Number of failed local handler invocations"),
	); err != nil {
		return nil, err
	}

	if r.deliveries, err = meter.Int64Counter("eventbus.delivery.total",
		metric.WithDescription("Number of cross-context deliveries by outcome"),
	); err != nil {
		return nil, err
	}

	if r.faults, err = meter.Int64Counter("eventbus.subscriber.faults",
		metric.WithDescription("Number of subscriber worker crashes"),
	); err != nil {
		return nil, err
	}

	if r.retries, err = meter.Int64Counter("eventbus.retry.total",
		metric.WithDescription("Number of retry-wrapped operations by outcome"),
	); err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *otelRecorder) RecordPublish(ctx context.Context, topic string, err error) {
	attrs := metric.WithAttributes(attribute.String("topic", topic))

	r.publishes.Add(ctx, 1, attrs)
	if err != nil {
		r.publishErrors.Add(ctx, 1, attrs)
	}
}

func (r *otelRecorder) RecordDispatch(ctx context.Context, boundedContext, kind string, handlers, failed int) {
	attrs := metric.WithAttributes(
		attribute.String("context", boundedContext),
		attribute.String("event_kind", kind),
	)

	r.dispatchHandlers.Add(ctx, int64(handlers), attrs)
	if failed > 0 {
		r.dispatchFailures.Add(ctx, int64(failed), attrs)
	}
}

func (r *otelRecorder) RecordDelivery(ctx context.Context, subscriber, topic, outcome string) {
	r.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscriber", subscriber),
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
}

func (r *otelRecorder) RecordSubscriberFault(ctx context.Context, subscriber string) {
	r.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("subscriber", subscriber)))
}

func (r *otelRecorder) RecordRetry(ctx context.Context, operation, outcome string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
