package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject string, fn func([]byte, map[string]string)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		headers := make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}

		fn(m.Data, headers)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// connOptions maps cfg to connection options. Zero values keep the nats.go defaults.
func connOptions(cfg Config) []nats.Option {
	var opts []nats.Option
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	return opts
}

// NewWithNATS creates a real NATS connection and returns a Transport and a cleanup.
func NewWithNATS(cfg Config, opts ...Option) (*Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	nc, err := nats.Connect(cfg.URL, connOptions(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransportNotConfigured, err)
	}

	if cfg.SubjectPrefix != "" {
		opts = append([]Option{WithSubjectPrefix(cfg.SubjectPrefix)}, opts...)
	}

	tr := New(natsClient{nc: nc}, opts...)
	cleanup := func() {
		_ = tr.Close()

		if !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return tr, cleanup, nil
}
