package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
)

// Concrete AMQP connection-backed broker with auto-reconnect. It serves as both the
// Publisher and the Consumer of a Transport.

const (
	integrationExchange   = "integration"
	integrationExchangeTy = "topic"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

type Config struct {
	URL         string        `yaml:"url"`
	Exchange    string        `yaml:"exchange"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

type broker struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	ready  chan struct{} // closed while a channel is usable
	closed chan struct{}
	once   sync.Once
}

func newBroker(cfg Config, logger *slog.Logger) *broker {
	if cfg.Exchange == "" {
		cfg.Exchange = integrationExchange
	}

	b := &broker{
		cfg:    cfg,
		logger: observability.Logger(logger),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go b.run()

	return b
}

// waitConn blocks until a connection is up, ctx is done or the broker is closed.
func (b *broker) waitConn(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	for {
		b.mu.RLock()
		conn, ch, ready := b.conn, b.ch, b.ready
		b.mu.RUnlock()

		if ch != nil {
			return conn, ch, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-b.closed:
			return nil, nil, fmt.Errorf("rabbitmq: %w", berr.ErrTransportClosed)
		}
	}
}

func (b *broker) Publish(ctx context.Context, m PubMsg) error {
	_, ch, err := b.waitConn(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			Headers:      toTable(m.Headers),
			ContentType:  "application/json",
			MessageId:    m.Headers[cbus.HeaderEventID],
			Timestamp:    time.Now().UTC(),
			Body:         m.Body,
		},
	)
}

func (b *broker) Consume(ctx context.Context, exchange, routingKey string, fn ConsumeFunc) (func() error, error) {
	select {
	case <-b.closed:
		return nil, fmt.Errorf("rabbitmq consume: %w", berr.ErrTransportClosed)
	default:
	}

	cctx, cancel := context.WithCancel(ctx)
	go b.consumeLoop(cctx, exchange, routingKey, fn)

	return func() error {
		cancel()
		return nil
	}, nil
}

// consumeLoop keeps a private queue bound for routingKey across reconnects.
// Deliveries in flight when the connection drops are lost.
func (b *broker) consumeLoop(ctx context.Context, exchange, routingKey string, fn ConsumeFunc) {
	backoff := initialBackoff
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		conn, _, err := b.waitConn(ctx)
		if err != nil {
			return
		}

		err = b.consumeOnce(ctx, conn, exchange, routingKey, fn)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			backoff = initialBackoff
			continue
		}

		b.logger.Warn("rabbitmq consumer interrupted",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)

		var sleep time.Duration
		sleep, backoff = nextBackoff(backoff, rng)

		if !sleepCtx(ctx, b.closed, sleep) {
			return
		}
	}
}

func (b *broker) consumeOnce(ctx context.Context, conn *amqp.Connection, exchange, routingKey string, fn ConsumeFunc) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			fn(d.Body, fromTable(d.Headers))
		}
	}
}

func (b *broker) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(b.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-event-bus"},
		Dial:       amqp.DefaultDial(b.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		integrationExchangeTy,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (b *broker) run() {
	backoff := initialBackoff
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-b.closed:
			return
		default:
		}

		conn, ch, err := b.dial()
		if err != nil {
			b.logger.Warn("rabbitmq dial failed", slog.String("error", err.Error()))

			var sleep time.Duration
			sleep, backoff = nextBackoff(backoff, rng)

			if !sleepCtx(context.Background(), b.closed, sleep) {
				return
			}

			continue
		}

		backoff = initialBackoff

		b.mu.Lock()
		b.conn, b.ch = conn, ch
		close(b.ready)
		b.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-b.closed:
			b.reset()
			return
		case <-notify:
			b.logger.Warn("rabbitmq connection lost, reconnecting")
			b.reset()
		}
	}
}

func (b *broker) reset() {
	b.mu.Lock()
	conn, ch := b.conn, b.ch
	b.conn, b.ch = nil, nil
	b.ready = make(chan struct{})
	b.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	if conn != nil {
		_ = conn.Close()
	}
}

func (b *broker) close() {
	b.once.Do(func() {
		close(b.closed)
		b.reset()
	})
}

// nextBackoff returns the sleep for the current attempt and the doubled backoff for
// the next one, both capped at maxBackoff.
func nextBackoff(cur time.Duration, rng *rand.Rand) (time.Duration, time.Duration) {
	jitter := time.Duration(rng.Int63n(int64(cur/2) + 1))

	sleep := cur + jitter/2
	if sleep > maxBackoff {
		sleep = maxBackoff
	}

	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}

	return sleep, next
}

// sleepCtx waits for d and reports false if ctx or closed ended first.
func sleepCtx(ctx context.Context, closed <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-closed:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func toTable(h map[string]string) amqp.Table {
	if len(h) == 0 {
		return nil
	}

	t := make(amqp.Table, len(h))
	for k, v := range h {
		t[k] = v
	}

	return t
}

func fromTable(t amqp.Table) map[string]string {
	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
			continue
		}

		h[k] = fmt.Sprint(v)
	}

	return h
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the exchange, and returns
// a Transport and cleanup. Dialing happens in the background; publishes wait for it.
func NewWithAMQPConn(cfg Config, opts ...Option) (*Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}

	tr := New(nil, nil, opts...)
	if cfg.Exchange != "" {
		tr.Exchange = cfg.Exchange
	} else {
		cfg.Exchange = tr.Exchange
	}

	b := newBroker(cfg, tr.logger)
	tr.Publisher, tr.Consumer = b, b

	return tr, b.close, nil
}
