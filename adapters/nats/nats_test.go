package nats_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/next-trace/scg-event-bus/adapters/nats"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeClient struct {
	mu       sync.Mutex
	calls    []published
	handlers map[string]func([]byte, map[string]string)
	unsubs   int
	err      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]func([]byte, map[string]string){}}
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.mu.Lock()
	f.calls = append(f.calls, published{subject, data, headers})
	h := f.handlers[subject]
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return err
	}

	if h != nil {
		cp := make(map[string]string, len(headers))
		for k, v := range headers {
			cp[k] = v
		}

		h(data, cp)
	}

	return nil
}

func (f *fakeClient) Subscribe(subject string, fn func([]byte, map[string]string)) (func() error, error) {
	f.mu.Lock()
	f.handlers[subject] = fn
	f.mu.Unlock()

	return func() error {
		f.mu.Lock()
		delete(f.handlers, subject)
		f.unsubs++
		f.mu.Unlock()

		return nil
	}, nil
}

func TestNATS_BroadcastMapsTopicToSubject(t *testing.T) {
	fc := newFakeClient()
	tr := nats.New(fc)

	msg := cbus.Message{
		Topic:   "provider:provider_verified",
		Key:     "p-1",
		Body:    []byte(`{"x":1}`),
		Headers: map[string]string{cbus.HeaderEventID: "e-1"},
	}
	if err := tr.Broadcast(t.Context(), msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(fc.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fc.calls))
	}

	c := fc.calls[0]
	if c.subject != "events.provider.provider_verified" {
		t.Fatalf("subject mismatch: %s", c.subject)
	}

	if c.headers[cbus.HeaderEventID] != "e-1" || c.headers["x-key"] != "p-1" {
		t.Fatalf("headers missing or wrong: %+v", c.headers)
	}

	if _, ok := msg.Headers["x-key"]; ok {
		t.Fatalf("caller headers mutated")
	}
}

func TestNATS_SubscribeRoundTrip(t *testing.T) {
	fc := newFakeClient()
	tr := nats.New(fc, nats.WithSubjectPrefix("bus."))

	var got []cbus.Message

	sub, err := tr.Subscribe(t.Context(), "program:program_created", func(_ context.Context, m cbus.Message) {
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = tr.Broadcast(t.Context(), cbus.Message{Topic: "program:program_created", Key: "pr-1", Body: []byte("{}")})
	_ = tr.Broadcast(t.Context(), cbus.Message{Topic: "program:program_updated", Body: []byte("{}")})

	if len(got) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(got))
	}

	if got[0].Topic != "program:program_created" || got[0].Key != "pr-1" {
		t.Fatalf("delivery=%+v", got[0])
	}

	if _, ok := got[0].Headers["x-key"]; ok {
		t.Fatalf("internal key header leaked to delivery")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	_ = sub.Unsubscribe()

	if fc.unsubs != 1 {
		t.Fatalf("unsubscribe must be idempotent, got %d calls", fc.unsubs)
	}
}

func TestNATS_NilClientError(t *testing.T) {
	tr := nats.New(nil)

	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	if _, err := tr.Subscribe(t.Context(), "a:b", nil); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	fc := newFakeClient()
	fc.err = errors.New("boom")
	tr := nats.New(fc)

	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	fc2 := newFakeClient()
	fc2.err = context.Canceled
	tr2 := nats.New(fc2)

	err := tr2.Broadcast(t.Context(), cbus.Message{Topic: "a:b"})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNATS_CloseDropsSubscriptions(t *testing.T) {
	fc := newFakeClient()
	tr := nats.New(fc)

	for _, tp := range []string{"a:b", "a:c"} {
		if _, err := tr.Subscribe(t.Context(), tp, func(context.Context, cbus.Message) {}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if fc.unsubs != 2 {
		t.Fatalf("want 2 unsubscribes, got %d", fc.unsubs)
	}

	if err := tr.Broadcast(t.Context(), cbus.Message{Topic: "a:b"}); !errors.Is(err, berr.ErrTransportClosed) {
		t.Fatalf("want ErrTransportClosed, got %v", err)
	}
}
