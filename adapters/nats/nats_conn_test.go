package nats_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/next-trace/scg-event-bus/adapters/nats"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{})
	if err == nil {
		t.Fatalf("expected error")
	}

	if !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

func TestNewWithNATS_UnreachableServer(t *testing.T) {
	tr, cleanup, err := nats.NewWithNATS(nats.Config{
		URL:         "nats://127.0.0.1:1",
		Name:        "busctl",
		ConnTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		cleanup()
		t.Fatalf("expected connect error")
	}

	if tr != nil || cleanup != nil {
		t.Fatalf("no transport or cleanup expected on failure")
	}

	if !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	if !strings.Contains(err.Error(), "nats connect") {
		t.Fatalf("want connect context in error, got %v", err)
	}
}
