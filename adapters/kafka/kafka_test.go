package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-event-bus/adapters/kafka"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Unified Kafka adapter tests (single file).

type record struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []record
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, record{topic, key, value, headers})

	return f.err
}

type fakeReader struct {
	topics []string
	fns    []kafka.RecordFunc
	stops  int
}

func (f *fakeReader) Read(_ context.Context, topic string, fn kafka.RecordFunc) (func() error, error) {
	f.topics = append(f.topics, topic)
	f.fns = append(f.fns, fn)

	return func() error {
		f.stops++
		return nil
	}, nil
}

func TestKafka_BroadcastUsesKeyAndMappedTopic(t *testing.T) {
	fw := &fakeWriter{}
	tr := kafka.New(fw, nil)

	msg := cbus.Message{
		Topic:   "participation:participation_recorded",
		Key:     "pa-1",
		Body:    []byte(`{}`),
		Headers: map[string]string{"ph": "pv"},
	}
	if err := tr.Broadcast(t.Context(), msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fw.calls))
	}

	p := fw.calls[0]
	if p.topic != "events.participation.participation_recorded" {
		t.Fatalf("topic: %s", p.topic)
	}

	if string(p.key) != "pa-1" {
		t.Fatalf("key: %s", string(p.key))
	}

	if p.headers["ph"] != "pv" {
		t.Fatalf("pub headers: %+v", p.headers)
	}
}

func TestKafka_EmptyKeyIsNil(t *testing.T) {
	fw := &fakeWriter{}
	tr := kafka.New(fw, nil, kafka.WithTopicPrefix(""))

	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if fw.calls[0].key != nil || fw.calls[0].topic != "a.b" {
		t.Fatalf("record=%+v", fw.calls[0])
	}
}

func TestKafka_SubscribeRoundTrip(t *testing.T) {
	fr := &fakeReader{}
	tr := kafka.New(&fakeWriter{}, fr)

	var got []cbus.Message

	sub, err := tr.Subscribe(t.Context(), "family:family_created", func(_ context.Context, m cbus.Message) {
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if fr.topics[0] != "events.family.family_created" {
		t.Fatalf("read topic: %s", fr.topics[0])
	}

	fr.fns[0]([]byte("f-1"), []byte(`{}`), map[string]string{cbus.HeaderEventID: "e-1"})

	if len(got) != 1 || got[0].Topic != "family:family_created" || got[0].Key != "f-1" {
		t.Fatalf("delivery=%+v", got)
	}

	_ = sub.Unsubscribe()
	_ = sub.Unsubscribe()

	if fr.stops != 1 {
		t.Fatalf("stops=%d", fr.stops)
	}
}

func TestKafka_NotConfigured(t *testing.T) {
	tr := kafka.New(nil, nil)
	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
	}

	if _, err := tr.Subscribe(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
	}
}

func TestKafka_WriteErrors(t *testing.T) {
	tr := kafka.New(&fakeWriter{err: errors.New("leader not available")}, nil)
	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	tr = kafka.New(&fakeWriter{err: context.DeadlineExceeded}, nil)

	err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"})
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare DeadlineExceeded, got %v", err)
	}
}

func TestNewWithKgo_Validation(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured for missing brokers, got %v", err)
	}

	cfg := kafka.Config{
		Brokers: []string{"localhost:9092"},
		SASL:    &kafka.SASLConfig{Mechanism: "GSSAPI"},
	}
	if _, _, err := kafka.NewWithKgo(cfg); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured for unsupported SASL, got %v", err)
	}
}
