package servicebus

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-event-bus/adapters/inmemory"
	"github.com/next-trace/scg-event-bus/adapters/kafka"
	"github.com/next-trace/scg-event-bus/adapters/nats"
	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-event-bus/config"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/idempotency"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/publish"
)

// FromConfig builds a Bus with the publisher, transport and ledger cfg selects.
// A nil logger is built from cfg.Logging. The Bus owns every connection it opens;
// Close releases them.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = observability.NewLogger(cfg.Logging)
	}

	logger = logger.With("service", cfg.Service)

	var metrics observability.Recorder = observability.Noop{}
	if cfg.Metrics.Enabled {
		metrics = observability.NewRecorder()
	}

	var closers []func() error

	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	t, cleanup, err := openTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cleanup != nil {
		closers = append(closers, func() error { cleanup(); return nil })
	}

	prop := observability.OTelPropagator{}

	var pub cbus.Publisher

	switch cfg.Publisher {
	case config.PublisherCapture:
		pub = inmemory.NewCapture()
	default:
		pub = publish.New(t,
			publish.WithPropagator(prop),
			publish.WithLogger(logger),
			publish.WithMetrics(metrics),
		)
	}

	var ledger idempotency.Store = idempotency.NewMemoryStore()

	if cfg.Idempotency.Store == config.StoreSQLite {
		st, err := idempotency.NewSQLiteStore(cfg.Idempotency.Path)
		if err != nil {
			release()
			return nil, fmt.Errorf("open idempotency store: %w", err)
		}

		ledger = st
		closers = append(closers, st.Close)
	}

	sub := cfg.Subscriber
	sub.Propagator = prop

	opts := []BusOption{
		WithMetrics(metrics),
		WithSubscriberConfig(sub),
		WithLedger(ledger),
		WithRetryBackoff(cfg.Retry.Backoff),
	}

	for _, c := range closers {
		opts = append(opts, WithCloser(c))
	}

	logger.Info("event bus configured",
		"publisher", cfg.Publisher,
		"transport", cfg.Transport.Kind,
		"idempotency", cfg.Idempotency.Store,
	)

	return New(t, pub, logger, opts...), nil
}

func openTransport(cfg config.Config, logger *slog.Logger) (cbus.Transport, func(), error) {
	tc := cfg.Transport

	switch tc.Kind {
	case config.TransportNATS:
		nc := tc.NATS
		if nc.Name == "" {
			nc.Name = cfg.Service
		}

		t, cleanup, err := nats.NewWithNATS(nc, nats.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return t, cleanup, nil
	case config.TransportRabbitMQ:
		t, cleanup, err := rabbitmq.NewWithAMQPConn(tc.RabbitMQ, rabbitmq.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return t, cleanup, nil
	case config.TransportKafka:
		kc := tc.Kafka
		if kc.ClientID == "" {
			kc.ClientID = cfg.Service
		}

		t, cleanup, err := kafka.NewWithKgo(kc, kafka.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return t, cleanup, nil
	default:
		opts := []inmemory.TransportOption{inmemory.WithLogger(logger)}
		if tc.Memory.Buffer > 0 {
			opts = append(opts, inmemory.WithBuffer(tc.Memory.Buffer))
		}

		return inmemory.New(opts...), nil, nil
	}
}
