package rabbitmq

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

const headerKey = "x-key"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// ConsumeFunc receives one delivered message.
type ConsumeFunc func(body []byte, headers map[string]string)

// Consumer binds a private queue to exchange with routingKey and calls fn serially
// for every delivery until the returned stop function is called or ctx is done.
type Consumer interface {
	Consume(ctx context.Context, exchange, routingKey string, fn ConsumeFunc) (func() error, error)
}

type Transport struct {
	Publisher Publisher
	Consumer  Consumer
	Exchange  string

	logger *slog.Logger
}

var _ cbus.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithExchange replaces the default integration exchange.
func WithExchange(name string) Option {
	return func(t *Transport) {
		if name != "" {
			t.Exchange = name
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a Transport. A nil Consumer yields a publish-only transport.
func New(p Publisher, c Consumer, opts ...Option) *Transport {
	t := &Transport{Publisher: p, Consumer: c, Exchange: integrationExchange}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = observability.Logger(t.logger)

	return t
}

// RoutingKey maps a topic to an AMQP topic-exchange routing key.
func RoutingKey(tp string) string { return strings.ReplaceAll(tp, topic.Separator, ".") }

func (t *Transport) Broadcast(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.Publisher == nil {
		return fmt.Errorf("rabbitmq broadcast: %w", berr.ErrTransportNotConfigured)
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		hdrs[k] = v
	}

	if msg.Key != "" {
		hdrs[headerKey] = msg.Key
	}

	pm := PubMsg{
		Exchange:   t.Exchange,
		RoutingKey: RoutingKey(msg.Topic),
		Body:       msg.Body,
		Headers:    hdrs,
	}
	if err := t.Publisher.Publish(ctx, pm); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrTransportClosed) {
			return err
		}

		return fmt.Errorf("rabbitmq broadcast %s: %w", msg.Topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, tp string, deliver cbus.Delivery) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.Consumer == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrTransportNotConfigured)
	}

	stop, err := t.Consumer.Consume(ctx, t.Exchange, RoutingKey(tp), func(body []byte, headers map[string]string) {
		key := headers[headerKey]
		delete(headers, headerKey)

		deliver(ctx, cbus.Message{Topic: tp, Key: key, Body: body, Headers: headers})
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", tp, err)
	}

	var once sync.Once

	var serr error

	return cbus.SubscriptionFunc(func() error {
		once.Do(func() { serr = stop() })
		return serr
	}), nil
}

// Close is a no-op; the connection belongs to whoever built the Publisher and Consumer.
func (t *Transport) Close() error { return nil }
