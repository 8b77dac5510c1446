package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/dispatch"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/idempotency"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/promote"
	"github.com/next-trace/scg-event-bus/publish"
	"github.com/next-trace/scg-event-bus/retry"
	"github.com/next-trace/scg-event-bus/subscriber"
	"github.com/next-trace/scg-event-bus/topic"
)

// Bus is the per-process event bus. It is concurrency-safe and contains no global state.
type Bus struct {
	dispatcher *dispatch.Dispatcher
	publisher  cbus.Publisher
	transport  cbus.Transport
	supervisor *subscriber.Supervisor
	catalog    *topic.Catalog
	ledger     idempotency.Store

	retryBackoff time.Duration
	logger       *slog.Logger
	metrics      observability.Recorder

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

var _ cbus.Publisher = (*Bus)(nil)

type settings struct {
	metrics      observability.Recorder
	subscriber   subscriber.Config
	ledger       idempotency.Store
	catalog      *topic.Catalog
	retryBackoff time.Duration
	closers      []func() error
}

// BusOption configures a Bus instance.
type BusOption func(*settings)

// WithMetrics sets the recorder shared by every component.
func WithMetrics(r observability.Recorder) BusOption {
	return func(s *settings) { s.metrics = r }
}

// WithSubscriberConfig tunes the subscriber supervisor.
func WithSubscriberConfig(c subscriber.Config) BusOption {
	return func(s *settings) { s.subscriber = c }
}

// WithLedger replaces the in-memory idempotency ledger.
func WithLedger(l idempotency.Store) BusOption {
	return func(s *settings) { s.ledger = l }
}

// WithCatalog shares a topic catalog between buses.
func WithCatalog(c *topic.Catalog) BusOption {
	return func(s *settings) { s.catalog = c }
}

// WithRetryBackoff sets the backoff Retry uses when the caller gives none.
func WithRetryBackoff(d time.Duration) BusOption {
	return func(s *settings) { s.retryBackoff = d }
}

// WithCloser registers a cleanup run by Close, in reverse registration order.
func WithCloser(fn func() error) BusOption {
	return func(s *settings) { s.closers = append(s.closers, fn) }
}

// New constructs a Bus over transport t. A nil publisher selects a publish.Broadcaster
// on t.
func New(t cbus.Transport, pub cbus.Publisher, logger *slog.Logger, opts ...BusOption) *Bus {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	logger = observability.Logger(logger)
	metrics := observability.Metrics(s.metrics)

	if pub == nil {
		pub = publish.New(t, publish.WithLogger(logger), publish.WithMetrics(metrics))
	}

	if s.ledger == nil {
		s.ledger = idempotency.NewMemoryStore()
	}

	if s.catalog == nil {
		s.catalog = topic.NewCatalog()
	}

	return &Bus{
		dispatcher:   dispatch.New(logger, metrics),
		publisher:    pub,
		transport:    t,
		supervisor:   subscriber.NewSupervisor(t, s.subscriber, logger, metrics),
		catalog:      s.catalog,
		ledger:       s.ledger,
		retryBackoff: s.retryBackoff,
		logger:       logger,
		metrics:      metrics,
		closers:      s.closers,
	}
}

func (b *Bus) Dispatcher() *dispatch.Dispatcher   { return b.dispatcher }
func (b *Bus) Publisher() cbus.Publisher          { return b.publisher }
func (b *Bus) Transport() cbus.Transport          { return b.transport }
func (b *Bus) Supervisor() *subscriber.Supervisor { return b.supervisor }
func (b *Bus) Catalog() *topic.Catalog            { return b.catalog }
func (b *Bus) Ledger() idempotency.Store          { return b.ledger }

// Subscribe registers a local handler for kind in the bounded context.
func (b *Bus) Subscribe(bounded string, kind event.Kind, fn cbus.LocalHandler, opts ...dispatch.Option) error {
	return b.dispatcher.Subscribe(bounded, kind, fn, opts...)
}

// Dispatch runs the local handlers of the bounded context for evt.
func (b *Bus) Dispatch(ctx context.Context, bounded string, evt *event.Envelope) error {
	return b.dispatcher.Dispatch(ctx, bounded, evt)
}

func (b *Bus) Publish(ctx context.Context, evt cbus.Event) error {
	return b.publisher.Publish(ctx, evt)
}

func (b *Bus) PublishTo(ctx context.Context, evt cbus.Event, t string) error {
	return b.publisher.PublishTo(ctx, evt, t)
}

func (b *Bus) PublishAll(ctx context.Context, evts ...cbus.Event) {
	b.publisher.PublishAll(ctx, evts...)
}

// Declare records the topics of every vocabulary in the catalog.
func (b *Bus) Declare(vocabs ...*event.Vocabulary) error {
	var errs []error

	for _, v := range vocabs {
		if err := v.Declare(b.catalog); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Promote creates a Promoter for source on the bus publisher and registers it on
// the dispatcher.
func (b *Bus) Promote(source string, rules ...promote.Rule) (*promote.Promoter, error) {
	p, err := promote.New(source, b.publisher, b.logger, rules...)
	if err != nil {
		return nil, err
	}

	if err := p.Register(b.dispatcher); err != nil {
		return nil, err
	}

	return p, nil
}

// Listen starts a supervised subscriber worker.
func (b *Bus) Listen(ctx context.Context, name string, h cbus.EventHandler, topics ...string) error {
	return b.supervisor.Start(ctx, name, h, topics...)
}

// Retry runs op under the retry policy with the bus logger and metrics.
func (b *Bus) Retry(ctx context.Context, op func(ctx context.Context) error, rc retry.Context, opts ...retry.Option) error {
	if rc.Backoff == 0 {
		rc.Backoff = b.retryBackoff
	}

	base := []retry.Option{retry.WithLogger(b.logger), retry.WithMetrics(b.metrics)}

	return retry.Do(ctx, op, rc, append(base, opts...)...)
}

// ApplyOnce runs fn at most once per (consumer, evt) under the retry policy.
// A redelivered event is a silent success.
func (b *Bus) ApplyOnce(ctx context.Context, consumer string, evt *event.Integration, fn func(ctx context.Context) error) error {
	rc := retry.Context{OperationName: consumer + ":" + string(evt.Kind()), AggregateID: evt.EntityID()}

	return b.Retry(ctx, func(ctx context.Context) error {
		return idempotency.Apply(ctx, b.ledger, consumer, evt.ID(), fn)
	}, rc)
}

// Close stops subscribers, closes the transport and runs registered closers.
// Calling Close more than once is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	closers := slices.Clone(b.closers)
	b.mu.Unlock()

	errs := []error{b.supervisor.Close()}

	if b.transport != nil {
		if err := b.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}
