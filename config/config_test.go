package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-event-bus/config"
)

func write(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	return p
}

func noEnv(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.TransportMemory, cfg.Transport.Kind)
	assert.Equal(t, config.PublisherBroadcast, cfg.Publisher)
}

func TestLoad_YAML(t *testing.T) {
	path := write(t, "bus.yaml", `
service: catalog
publisher: broadcast
transport:
  kind: kafka
  kafka:
    brokers: [k1:9092, k2:9092]
    topic_prefix: marketplace.
    acks: all
subscriber:
  inbox_size: 64
  restart_backoff: 250ms
  max_restart_backoff: 5s
retry:
  backoff: 50ms
logging:
  level: debug
  format: text
metrics:
  enabled: true
`)

	cfg, err := config.Load(path, noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "catalog", cfg.Service)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Transport.Kafka.Brokers)
	assert.Equal(t, "marketplace.", cfg.Transport.Kafka.TopicPrefix)
	assert.Equal(t, 64, cfg.Subscriber.InboxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Subscriber.RestartBackoff)
	assert.Equal(t, 5*time.Second, cfg.Subscriber.MaxRestartBackoff)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Backoff)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := write(t, "bus.yaml", "transport:\n  kind: memory\n")

	t.Setenv("EVENTBUS_TRANSPORT", "nats")
	t.Setenv("EVENTBUS_NATS_URL", "nats://localhost:4222")
	t.Setenv("EVENTBUS_METRICS_ENABLED", "true")
	t.Setenv("EVENTBUS_RETRY_BACKOFF", "1s")

	cfg, err := config.Load(path, noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, config.TransportNATS, cfg.Transport.Kind)
	assert.Equal(t, "nats://localhost:4222", cfg.Transport.NATS.URL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, time.Second, cfg.Retry.Backoff)
}

func TestLoad_DotEnv(t *testing.T) {
	env := write(t, "bus.env", "EVENTBUS_TRANSPORT=kafka\nEVENTBUS_KAFKA_BROKERS=a:9092, b:9092\n")

	t.Cleanup(func() {
		os.Unsetenv("EVENTBUS_TRANSPORT")
		os.Unsetenv("EVENTBUS_KAFKA_BROKERS")
	})

	cfg, err := config.Load("", env)
	require.NoError(t, err)

	assert.Equal(t, config.TransportKafka, cfg.Transport.Kind)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Transport.Kafka.Brokers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv(t))
	require.Error(t, err)

	_, err = config.Load(write(t, "bad.yaml", "transport: [\n"), noEnv(t))
	require.Error(t, err)

	t.Setenv("EVENTBUS_METRICS_ENABLED", "maybe")

	_, err = config.Load("", noEnv(t))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"unknown publisher":  func(c *config.Config) { c.Publisher = "carrier_pigeon" },
		"unknown transport":  func(c *config.Config) { c.Transport.Kind = "smtp" },
		"nats without url":   func(c *config.Config) { c.Transport.Kind = config.TransportNATS },
		"rabbit without url": func(c *config.Config) { c.Transport.Kind = config.TransportRabbitMQ },
		"kafka no brokers":   func(c *config.Config) { c.Transport.Kind = config.TransportKafka },
		"sqlite no path":     func(c *config.Config) { c.Idempotency.Store = config.StoreSQLite },
		"unknown store":      func(c *config.Config) { c.Idempotency.Store = "redis" },
		"negative backoff":   func(c *config.Config) { c.Retry.Backoff = -time.Second },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
		})
	}
}
