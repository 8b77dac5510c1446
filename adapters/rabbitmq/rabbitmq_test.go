package rabbitmq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)

	return f.err
}

type binding struct {
	exchange, routingKey string
	fn                   rabbitmq.ConsumeFunc
	stopped              bool
}

type fakeConsumer struct {
	bindings []*binding
}

func (f *fakeConsumer) Consume(_ context.Context, exchange, rk string, fn rabbitmq.ConsumeFunc) (func() error, error) {
	b := &binding{exchange: exchange, routingKey: rk, fn: fn}
	f.bindings = append(f.bindings, b)

	return func() error {
		b.stopped = true
		return nil
	}, nil
}

func TestRabbitMQ_BroadcastToIntegrationExchange(t *testing.T) {
	fp := &fakePublisher{}
	tr := rabbitmq.New(fp, nil)

	msg := cbus.Message{
		Topic:   "enrollment:enrollment_created",
		Key:     "en-1",
		Body:    []byte(`{}`),
		Headers: map[string]string{"ph": "pv"},
	}
	if err := tr.Broadcast(t.Context(), msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	p := fp.calls[0]
	if p.Exchange != "integration" || p.RoutingKey != "enrollment.enrollment_created" {
		t.Fatalf("routing: %q %q", p.Exchange, p.RoutingKey)
	}

	if p.Headers["ph"] != "pv" || p.Headers["x-key"] != "en-1" {
		t.Fatalf("pub headers: %+v", p.Headers)
	}

	if len(msg.Headers) != 1 {
		t.Fatalf("caller headers mutated: %+v", msg.Headers)
	}
}

func TestRabbitMQ_SubscribeBindsRoutingKey(t *testing.T) {
	fc := &fakeConsumer{}
	tr := rabbitmq.New(&fakePublisher{}, fc, rabbitmq.WithExchange("marketplace"))

	var got []cbus.Message

	sub, err := tr.Subscribe(t.Context(), "provider:provider_verified", func(_ context.Context, m cbus.Message) {
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b := fc.bindings[0]
	if b.exchange != "marketplace" || b.routingKey != "provider.provider_verified" {
		t.Fatalf("binding=%+v", b)
	}

	b.fn([]byte(`{"a":1}`), map[string]string{"x-key": "p-1", cbus.HeaderEventID: "e-1"})

	if len(got) != 1 || got[0].Topic != "provider:provider_verified" || got[0].Key != "p-1" {
		t.Fatalf("delivery=%+v", got)
	}

	if _, ok := got[0].Headers["x-key"]; ok {
		t.Fatalf("internal key header leaked")
	}

	if err := sub.Unsubscribe(); err != nil || !b.stopped {
		t.Fatalf("unsubscribe: %v stopped=%v", err, b.stopped)
	}
}

func TestRabbitMQ_NotConfigured(t *testing.T) {
	tr := rabbitmq.New(nil, nil)
	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
	}

	if _, err := tr.Subscribe(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
	}
}

func TestRabbitMQ_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	fp := &fakePublisher{err: errors.New("boom")}
	tr := rabbitmq.New(fp, nil)

	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	fp2 := &fakePublisher{err: context.Canceled}
	tr2 := rabbitmq.New(fp2, nil)

	err := tr2.Broadcast(t.Context(), cbus.Message{Topic: "a:b"})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := rabbitmq.RoutingKey("family:family_created"); got != "family.family_created" {
		t.Fatalf("routing key=%q", got)
	}
}
