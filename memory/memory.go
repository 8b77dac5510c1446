// Package memory builds a ready-to-use in-process bus for tests and examples.
package memory

import (
	"log/slog"

	"github.com/next-trace/scg-event-bus/adapters/inmemory"
	"github.com/next-trace/scg-event-bus/servicebus"
)

// New constructs a bus broadcasting over an in-memory transport and returns it
// along with a cleanup function that closes the bus.
func New(opts ...servicebus.BusOption) (*servicebus.Bus, func()) {
	return NewWithLogger(nil, opts...)
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(logger *slog.Logger, opts ...servicebus.BusOption) (*servicebus.Bus, func()) {
	sb := servicebus.New(inmemory.New(inmemory.WithLogger(logger)), nil, logger, opts...)
	cleanup := func() { _ = sb.Close() }

	return sb, cleanup
}

// NewCapturing constructs a bus whose publisher records events instead of
// broadcasting them. Subscribers on the bus never receive captured events.
func NewCapturing(opts ...servicebus.BusOption) (*servicebus.Bus, *inmemory.Capture, func()) {
	capture := inmemory.NewCapture()
	sb := servicebus.New(inmemory.New(), capture, nil, opts...)
	cleanup := func() { _ = sb.Close() }

	return sb, capture, cleanup
}
