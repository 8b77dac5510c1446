// Package config loads the event bus configuration from YAML, an optional .env file
// and EVENTBUS_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/next-trace/scg-event-bus/adapters/kafka"
	"github.com/next-trace/scg-event-bus/adapters/nats"
	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/subscriber"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = berr.Code("eventbus.invalid_config")

// Publisher kinds.
const (
	PublisherBroadcast = "broadcast"
	PublisherCapture   = "capture"
)

// Transport kinds.
const (
	TransportMemory   = "memory"
	TransportNATS     = "nats"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
)

// Idempotency store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

const envPrefix = "EVENTBUS_"

type Config struct {
	Service     string                  `yaml:"service"`
	Publisher   string                  `yaml:"publisher"`
	Transport   Transport               `yaml:"transport"`
	Subscriber  subscriber.Config       `yaml:"subscriber"`
	Retry       Retry                   `yaml:"retry"`
	Idempotency Idempotency             `yaml:"idempotency"`
	Logging     observability.LogConfig `yaml:"logging"`
	Metrics     Metrics                 `yaml:"metrics"`
}

type Transport struct {
	Kind     string          `yaml:"kind"`
	Memory   Memory          `yaml:"memory"`
	NATS     nats.Config     `yaml:"nats"`
	RabbitMQ rabbitmq.Config `yaml:"rabbitmq"`
	Kafka    kafka.Config    `yaml:"kafka"`
}

type Memory struct {
	Buffer int `yaml:"buffer"`
}

type Retry struct {
	Backoff time.Duration `yaml:"backoff"`
}

type Idempotency struct {
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default is an in-memory broadcast bus.
func Default() Config {
	return Config{
		Service:   "scg-event-bus",
		Publisher: PublisherBroadcast,
		Transport: Transport{Kind: TransportMemory},
		Subscriber: subscriber.Config{
			InboxSize:         subscriber.DefaultInboxSize,
			RestartBackoff:    subscriber.DefaultRestartBackoff,
			MaxRestartBackoff: subscriber.DefaultMaxRestartBackoff,
		},
		Retry:       Retry{Backoff: 100 * time.Millisecond},
		Idempotency: Idempotency{Store: StoreMemory},
		Logging:     observability.LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from Default, the YAML file at path (skipped when empty),
// the given .env files (".env" when none are given; missing files are ignored) and
// the environment. The result is validated.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	str("SERVICE", &c.Service)
	str("PUBLISHER", &c.Publisher)
	str("TRANSPORT", &c.Transport.Kind)
	str("NATS_URL", &c.Transport.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &c.Transport.NATS.SubjectPrefix)
	str("RABBITMQ_URL", &c.Transport.RabbitMQ.URL)
	str("RABBITMQ_EXCHANGE", &c.Transport.RabbitMQ.Exchange)
	str("KAFKA_TOPIC_PREFIX", &c.Transport.Kafka.TopicPrefix)
	str("IDEMPOTENCY_STORE", &c.Idempotency.Store)
	str("IDEMPOTENCY_PATH", &c.Idempotency.Path)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup(envPrefix + "KAFKA_BROKERS"); ok && v != "" {
		c.Transport.Kafka.Brokers = splitList(v)
	}

	if v, ok := lookup(envPrefix + "METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", envPrefix, errors.Join(ErrInvalid, err))
		}

		c.Metrics.Enabled = b
	}

	if v, ok := lookup(envPrefix + "RETRY_BACKOFF"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRETRY_BACKOFF: %w", envPrefix, errors.Join(ErrInvalid, err))
		}

		c.Retry.Backoff = d
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Validate checks that the selected publisher, transport and store are usable.
func (c Config) Validate() error {
	switch c.Publisher {
	case PublisherBroadcast, PublisherCapture:
	default:
		return fmt.Errorf("config: unknown publisher %q: %w", c.Publisher, ErrInvalid)
	}

	t := c.Transport
	switch t.Kind {
	case TransportMemory:
	case TransportNATS:
		if t.NATS.URL == "" {
			return fmt.Errorf("config: nats url required: %w", ErrInvalid)
		}
	case TransportRabbitMQ:
		if t.RabbitMQ.URL == "" {
			return fmt.Errorf("config: rabbitmq url required: %w", ErrInvalid)
		}
	case TransportKafka:
		if len(t.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka brokers required: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("config: unknown transport %q: %w", t.Kind, ErrInvalid)
	}

	switch c.Idempotency.Store {
	case "", StoreMemory:
	case StoreSQLite:
		if c.Idempotency.Path == "" {
			return fmt.Errorf("config: sqlite idempotency path required: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("config: unknown idempotency store %q: %w", c.Idempotency.Store, ErrInvalid)
	}

	if c.Retry.Backoff < 0 {
		return fmt.Errorf("config: negative retry backoff: %w", ErrInvalid)
	}

	return nil
}
