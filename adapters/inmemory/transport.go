package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
)

const defaultBuffer = 128

// Transport is an in-process broadcast transport. Each subscription owns a buffered
// queue drained by its own goroutine; when the queue is full the message is dropped
// for that subscriber only.
type Transport struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
	closed bool

	buffer int
	logger *slog.Logger
}

var _ cbus.Transport = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBuffer sets the per-subscription queue size.
func WithBuffer(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

// WithLogger sets the logger used for dropped messages.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// New creates an in-memory transport.
func New(opts ...TransportOption) *Transport {
	t := &Transport{
		subs:   make(map[string]map[uint64]*subscription),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = observability.Logger(t.logger)

	return t
}

type subscription struct {
	id    uint64
	topic string
	ch    chan cbus.Message
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) stop() { s.once.Do(func() { close(s.done) }) }

// Broadcast enqueues msg for every current subscriber of msg.Topic. It never blocks on
// a slow subscriber.
func (t *Transport) Broadcast(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return fmt.Errorf("inmemory broadcast %s: %w", msg.Topic, berr.ErrTransportClosed)
	}

	targets := make([]*subscription, 0, len(t.subs[msg.Topic]))
	for _, s := range t.subs[msg.Topic] {
		targets = append(targets, s)
	}
	t.mu.RUnlock()

	for _, s := range targets {
		select {
		case <-s.done:
		case s.ch <- msg:
		default:
			t.logger.WarnContext(ctx, "dropping message for slow subscriber",
				slog.String("topic", msg.Topic),
				slog.String("event_id", msg.Headers[cbus.HeaderEventID]),
			)
		}
	}

	return nil
}

// Subscribe registers deliver for topic until the returned subscription is dropped,
// ctx is done or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string, deliver cbus.Delivery) (cbus.Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("inmemory subscribe %s: %w", topic, berr.ErrTransportClosed)
	}

	t.nextID++
	s := &subscription{
		id:    t.nextID,
		topic: topic,
		ch:    make(chan cbus.Message, t.buffer),
		done:  make(chan struct{}),
	}

	if t.subs[topic] == nil {
		t.subs[topic] = make(map[uint64]*subscription)
	}
	t.subs[topic][s.id] = s
	t.mu.Unlock()

	go func() {
		defer t.remove(s)

		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case m := <-s.ch:
				deliver(ctx, m)
			}
		}
	}()

	return cbus.SubscriptionFunc(func() error {
		s.stop()
		t.remove(s)
		return nil
	}), nil
}

// Subscribers reports how many live subscriptions a topic has.
func (t *Transport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.subs[topic])
}

func (t *Transport) remove(s *subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subs[s.topic], s.id)
	if len(t.subs[s.topic]) == 0 {
		delete(t.subs, s.topic)
	}
}

// Close stops every subscription. Later calls to Broadcast and Subscribe fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for topic, subs := range t.subs {
		for _, s := range subs {
			s.stop()
		}
		delete(t.subs, topic)
	}

	return nil
}
