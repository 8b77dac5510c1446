// Package dispatch delivers domain events to in-process handlers of the bounded
// context that raised them. Dispatch is synchronous, ordered by priority and never
// stops early: every registered handler runs once per event.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/observability"
)

// Well-known priorities. Lower runs first.
const (
	PriorityPromotion    = 10
	PriorityNotification = 100
)

type key struct {
	bounded string
	kind    event.Kind
}

type entry struct {
	name     string
	priority int
	fn       cbus.LocalHandler
}

// Dispatcher is a per-process registry of local handlers keyed by bounded context
// and event kind. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[key][]entry

	logger  *slog.Logger
	metrics observability.Recorder
}

// New creates a Dispatcher. Both arguments may be nil.
func New(logger *slog.Logger, metrics observability.Recorder) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[key][]entry),
		logger:   observability.Logger(logger),
		metrics:  observability.Metrics(metrics),
	}
}

type subscribeOptions struct {
	priority int
	name     string
}

// Option configures a single subscription.
type Option func(*subscribeOptions)

// WithPriority sets the handler priority. The default is 0.
func WithPriority(p int) Option {
	return func(o *subscribeOptions) { o.priority = p }
}

// WithName names the handler in logs and in Handlers. Names are unique per context and kind.
func WithName(name string) Option {
	return func(o *subscribeOptions) { o.name = name }
}

// Subscribe registers fn for events of kind raised in the bounded context. Handlers with equal
// priority run in registration order.
func (d *Dispatcher) Subscribe(bounded string, kind event.Kind, fn cbus.LocalHandler, opts ...Option) error {
	if fn == nil {
		panic("dispatch: nil handler")
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{bounded: bounded, kind: kind}
	list := d.handlers[k]

	if o.name == "" {
		o.name = string(kind) + "#" + strconv.Itoa(len(list)+1)
	}

	if slices.ContainsFunc(list, func(e entry) bool { return e.name == o.name }) {
		return fmt.Errorf("subscribe %s/%s %s: %w", bounded, kind, o.name, berr.ErrHandlerExists)
	}

	list = append(list, entry{name: o.name, priority: o.priority, fn: fn})
	slices.SortStableFunc(list, func(a, b entry) int { return cmp.Compare(a.priority, b.priority) })
	d.handlers[k] = list

	return nil
}

// Handlers lists the handler names registered for a bounded context and kind in run order.
func (d *Dispatcher) Handlers(bounded string, kind event.Kind) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.handlers[key{bounded: bounded, kind: kind}]
	names := make([]string, len(list))

	for i, e := range list {
		names[i] = e.name
	}

	return names
}

// Dispatch runs every handler registered for (bounded, evt.Kind()) on the caller's
// goroutine. Handler errors and panics are logged and collected; the joined error
// wraps ErrDispatchFailed and is returned after all handlers ran.
func (d *Dispatcher) Dispatch(ctx context.Context, bounded string, evt *event.Envelope) error {
	d.mu.RLock()
	entries := slices.Clone(d.handlers[key{bounded: bounded, kind: evt.Kind()}])
	d.mu.RUnlock()

	if len(entries) == 0 {
		return nil
	}

	var errs []error

	for _, ent := range entries {
		if err := d.invoke(ctx, ent, evt); err != nil {
			d.logger.ErrorContext(ctx, "local handler failed",
				slog.String("context", bounded),
				slog.String("event_kind", string(evt.Kind())),
				slog.String("event_id", evt.ID()),
				slog.String("handler", ent.name),
				slog.String("error", err.Error()),
			)

			errs = append(errs, err)
		}
	}

	d.metrics.RecordDispatch(ctx, bounded, string(evt.Kind()), len(entries), len(errs))

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("dispatch %s/%s: %w", bounded, evt.Kind(), errors.Join(append([]error{berr.ErrDispatchFailed}, errs...)...))
}

func (d *Dispatcher) invoke(ctx context.Context, ent entry, evt *event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "local handler panicked",
				slog.String("handler", ent.name),
				slog.String("event_id", evt.ID()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)

			err = fmt.Errorf("handler %s: %v: %w", ent.name, r, berr.ErrHandlerPanicked)
		}
	}()

	if err := ent.fn(ctx, evt); err != nil {
		return fmt.Errorf("handler %s: %w", ent.name, errors.Join(berr.ErrHandlerFailed, err))
	}

	return nil
}

// Scope is a Dispatcher bound to one bounded context.
type Scope struct {
	d       *Dispatcher
	bounded string
}

// For returns a Scope for a bounded context.
func (d *Dispatcher) For(bounded string) Scope { return Scope{d: d, bounded: bounded} }

// Context returns the bounded context name.
func (s Scope) Context() string { return s.bounded }

func (s Scope) Subscribe(kind event.Kind, fn cbus.LocalHandler, opts ...Option) error {
	return s.d.Subscribe(s.bounded, kind, fn, opts...)
}

func (s Scope) Dispatch(ctx context.Context, evt *event.Envelope) error {
	return s.d.Dispatch(ctx, s.bounded, evt)
}
