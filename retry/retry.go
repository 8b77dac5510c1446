// Package retry runs a side-effecting operation with the bus's narrow retry policy:
// one retry after a short backoff for transient failures, success for failures that
// show the effect was already applied, and no retry otherwise.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/next-trace/scg-event-bus/observability"
)

// DefaultBackoff is the pause before the single retry.
const DefaultBackoff = 100 * time.Millisecond

// Context describes the operation for logs and metrics.
type Context struct {
	OperationName string
	AggregateID   string
	Backoff       time.Duration
}

type options struct {
	classify Classifier
	logger   *slog.Logger
	metrics  observability.Recorder
}

// Option configures Do and Value.
type Option func(*options)

// WithClassifier replaces Classify.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithLogger sets the logger for exhausted and failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// Do runs op under the retry policy. Errors are returned untouched.
func Do(ctx context.Context, op func(ctx context.Context) error, rc Context, opts ...Option) error {
	_, err := Value(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, rc, opts...)

	return err
}

// Value is Do for operations that produce a result. An already-applied failure
// yields the zero value and a nil error.
func Value[T any](ctx context.Context, op func(ctx context.Context) (T, error), rc Context, opts ...Option) (T, error) {
	o := options{classify: Classify}
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.Logger(o.logger)
	metrics := observability.Metrics(o.metrics)

	if rc.Backoff <= 0 {
		rc.Backoff = DefaultBackoff
	}

	var zero T

	attrs := func(attempts int, err error) []any {
		return []any{
			slog.String("operation", rc.OperationName),
			slog.String("aggregate_id", rc.AggregateID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		}
	}

	v, err := op(ctx)
	if err == nil {
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetrySucceeded)
		return v, nil
	}

	switch o.classify(err) {
	case AlreadyApplied:
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetryAlreadyApplied)
		logger.DebugContext(ctx, "operation already applied", attrs(1, err)...)

		return zero, nil
	case Transient:
	default:
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetryFailed)
		logger.ErrorContext(ctx, "operation failed", attrs(1, err)...)

		return zero, err
	}

	t := time.NewTimer(rc.Backoff)
	select {
	case <-ctx.Done():
		t.Stop()
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetryFailed)
		logger.ErrorContext(ctx, "operation abandoned before retry", attrs(1, err)...)

		return zero, errors.Join(err, ctx.Err())
	case <-t.C:
	}

	v, err = op(ctx)
	if err == nil {
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetryRecovered)
		return v, nil
	}

	if o.classify(err) == AlreadyApplied {
		metrics.RecordRetry(ctx, rc.OperationName, observability.RetryAlreadyApplied)
		return zero, nil
	}

	metrics.RecordRetry(ctx, rc.OperationName, observability.RetryExhausted)
	logger.ErrorContext(ctx, "operation failed after retry", attrs(2, err)...)

	return zero, err
}
