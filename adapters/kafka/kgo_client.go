package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete franz-go based constructor, writer and reader.

type SASLConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Config struct {
	Brokers     []string    `yaml:"brokers"`
	TopicPrefix string      `yaml:"topic_prefix"`
	TLS         *tls.Config `yaml:"-"`
	SASL        *SASLConfig `yaml:"sasl"`
	Acks        string      `yaml:"acks"` // all, leader or none
	Idempotent  bool        `yaml:"idempotent"`
	ClientID    string      `yaml:"client_id"`
	Compression string      `yaml:"compression"` // gzip, snappy, lz4 or zstd
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

// kgoReader opens one group-less client per subscription so every subscriber sees
// every record published after it attached.
type kgoReader struct {
	base   []kgo.Opt
	logger *slog.Logger
}

func (r kgoReader) Read(ctx context.Context, topic string, fn RecordFunc) (func() error, error) {
	opts := append([]kgo.Opt{}, r.base...)
	opts = append(opts,
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			fetches := cl.PollFetches(cctx)
			if fetches.IsClientClosed() || cctx.Err() != nil {
				return
			}

			fetches.EachError(func(t string, p int32, err error) {
				r.logger.Warn("kafka fetch failed",
					slog.String("topic", t),
					slog.Int("partition", int(p)),
					slog.String("error", err.Error()),
				)
			})

			fetches.EachRecord(func(rec *kgo.Record) {
				headers := make(map[string]string, len(rec.Headers))
				for _, h := range rec.Headers {
					headers[h.Key] = string(h.Value)
				}

				fn(rec.Key, rec.Value, headers)
			})
		}
	}()

	return func() error {
		cancel()
		<-done
		cl.Close()

		return nil
	}, nil
}

func saslOpt(c *SASLConfig) (kgo.Opt, error) {
	switch strings.ToUpper(c.Mechanism) {
	case "PLAIN":
		return kgo.SASL(plain.Auth{User: c.Username, Pass: c.Password}.AsMechanism()), nil
	case "SCRAM-SHA-256":
		return kgo.SASL(scram.Auth{User: c.Username, Pass: c.Password}.AsSha256Mechanism()), nil
	case "SCRAM-SHA-512":
		return kgo.SASL(scram.Auth{User: c.Username, Pass: c.Password}.AsSha512Mechanism()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported SASL mechanism %q", berr.ErrTransportNotConfigured, c.Mechanism)
	}
}

func acksOpt(s string) (kgo.Acks, bool) {
	switch strings.ToLower(s) {
	case "all":
		return kgo.AllISRAcks(), true
	case "leader":
		return kgo.LeaderAck(), true
	case "none":
		return kgo.NoAck(), true
	default:
		return kgo.Acks{}, false
	}
}

func compressionOpt(s string) (kgo.CompressionCodec, bool) {
	switch strings.ToLower(s) {
	case "gzip":
		return kgo.GzipCompression(), true
	case "snappy":
		return kgo.SnappyCompression(), true
	case "lz4":
		return kgo.Lz4Compression(), true
	case "zstd":
		return kgo.ZstdCompression(), true
	default:
		return kgo.NoCompression(), false
	}
}

// clientOpts builds the options shared by the producer and every reader.
func clientOpts(cfg Config) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportNotConfigured)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		o, err := saslOpt(cfg.SASL)
		if err != nil {
			return nil, err
		}

		opts = append(opts, o)
	}

	return opts, nil
}

// NewWithKgo builds a franz-go client based Transport. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config, opts ...Option) (*Transport, func(), error) {
	base, err := clientOpts(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := append([]kgo.Opt{kgo.AllowAutoTopicCreation()}, base...)

	if !cfg.Idempotent {
		producer = append(producer, kgo.DisableIdempotentWrite())
	}

	if acks, ok := acksOpt(cfg.Acks); ok {
		producer = append(producer, kgo.RequiredAcks(acks))
	}

	if codec, ok := compressionOpt(cfg.Compression); ok {
		producer = append(producer, kgo.ProducerBatchCompression(codec))
	}

	cl, err := kgo.NewClient(producer...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransportNotConfigured, err)
	}

	if cfg.TopicPrefix != "" {
		opts = append([]Option{WithTopicPrefix(cfg.TopicPrefix)}, opts...)
	}

	tr := New(kgoWriter{cl: cl}, nil, opts...)
	tr.Reader = kgoReader{base: base, logger: tr.logger}

	cleanup := func() { cl.Close() }

	return tr, cleanup, nil
}
