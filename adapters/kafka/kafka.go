package kafka

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

// DefaultTopicPrefix is prepended to every Kafka topic name.
const DefaultTopicPrefix = "events."

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// RecordFunc receives one consumed record.
type RecordFunc func(key, value []byte, headers map[string]string)

// Reader tails a Kafka topic from its current end and calls fn serially for every
// record until the returned stop function is called or ctx is done.
type Reader interface {
	Read(ctx context.Context, topic string, fn RecordFunc) (func() error, error)
}

// Transport implements cbus.Transport using an injected Writer and Reader.
type Transport struct {
	Writer Writer
	Reader Reader

	prefix string
	logger *slog.Logger
}

var _ cbus.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithTopicPrefix replaces DefaultTopicPrefix.
func WithTopicPrefix(p string) Option {
	return func(t *Transport) { t.prefix = p }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a new Kafka transport. A nil Reader yields a publish-only transport.
func New(w Writer, r Reader, opts ...Option) *Transport {
	t := &Transport{Writer: w, Reader: r, prefix: DefaultTopicPrefix}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = observability.Logger(t.logger)

	return t
}

// TopicName maps a bus topic to a Kafka topic name.
func (t *Transport) TopicName(tp string) string {
	return t.prefix + strings.ReplaceAll(tp, topic.Separator, ".")
}

func (t *Transport) Broadcast(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.Writer == nil {
		return fmt.Errorf("kafka broadcast: %w", berr.ErrTransportNotConfigured)
	}

	var key []byte
	if msg.Key != "" {
		key = []byte(msg.Key)
	}

	if err := t.Writer.Write(ctx, t.TopicName(msg.Topic), key, msg.Body, msg.Headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka broadcast %s: %w", msg.Topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, tp string, deliver cbus.Delivery) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.Reader == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrTransportNotConfigured)
	}

	stop, err := t.Reader.Read(ctx, t.TopicName(tp), func(key, value []byte, headers map[string]string) {
		deliver(ctx, cbus.Message{Topic: tp, Key: string(key), Body: value, Headers: headers})
	})
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", tp, err)
	}

	var once sync.Once

	var serr error

	return cbus.SubscriptionFunc(func() error {
		once.Do(func() { serr = stop() })
		return serr
	}), nil
}

// Close is a no-op; the clients belong to whoever built the Writer and Reader.
func (t *Transport) Close() error { return nil }
