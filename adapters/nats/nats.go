package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/topic"
)

const (
	// DefaultSubjectPrefix is prepended to every broadcast subject.
	DefaultSubjectPrefix = "events."

	headerKey = "x-key"
)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe calls fn for every message on subject, serially, until the returned
	// function is called.
	Subscribe(subject string, fn func(data []byte, headers map[string]string)) (func() error, error)
}

// Transport implements cbus.Transport on top of NATS core subjects. Topics map to
// subjects by replacing the topic separator with a dot.
type Transport struct {
	Client Client

	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[int]func() error
	nextID int
}

var _ cbus.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithSubjectPrefix replaces DefaultSubjectPrefix.
func WithSubjectPrefix(p string) Option {
	return func(t *Transport) { t.prefix = p }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a new NATS transport with the provided client.
func New(c Client, opts ...Option) *Transport {
	t := &Transport{Client: c, prefix: DefaultSubjectPrefix, subs: make(map[int]func() error)}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = observability.Logger(t.logger)

	return t
}

// Subject returns the NATS subject a topic is broadcast on.
func (t *Transport) Subject(tp string) string {
	return t.prefix + strings.ReplaceAll(tp, topic.Separator, ".")
}

func (t *Transport) Broadcast(ctx context.Context, msg cbus.Message) error {
	if err := t.ready(ctx, "broadcast"); err != nil {
		return err
	}

	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}

	if msg.Key != "" {
		headers[headerKey] = msg.Key
	}

	if err := t.Client.Publish(t.Subject(msg.Topic), msg.Body, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats broadcast %s: %w", msg.Topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, tp string, deliver cbus.Delivery) (cbus.Subscription, error) {
	if err := t.ready(ctx, "subscribe"); err != nil {
		return nil, err
	}

	unsub, err := t.Client.Subscribe(t.Subject(tp), func(data []byte, headers map[string]string) {
		if ctx.Err() != nil {
			return
		}

		key := headers[headerKey]
		delete(headers, headerKey)

		deliver(ctx, cbus.Message{Topic: tp, Key: key, Body: data, Headers: headers})
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", tp, err)
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	var once sync.Once

	var uerr error

	stop := func() error {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()

			uerr = unsub()
		})

		return uerr
	}

	t.mu.Lock()
	t.subs[id] = stop
	t.mu.Unlock()

	context.AfterFunc(ctx, func() {
		if err := stop(); err != nil {
			t.logger.Warn("nats unsubscribe failed", slog.String("topic", tp), slog.String("error", err.Error()))
		}
	})

	return cbus.SubscriptionFunc(stop), nil
}

// Close drops every live subscription. The underlying connection is owned by the caller.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	subs := t.subs
	t.subs = map[int]func() error{}
	t.mu.Unlock()

	var errs []error
	for _, stop := range subs {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t *Transport) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.Client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrTransportNotConfigured)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("nats %s: %w", label, berr.ErrTransportClosed)
	}

	return nil
}
