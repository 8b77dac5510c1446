package inmemory

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// Capture is a thread-safe cbus.Publisher that records events instead of sending them.
type Capture struct {
	mu     sync.Mutex
	events []cbus.Event
	topics []string
	err    error
}

var _ cbus.Publisher = (*Capture)(nil)

// NewCapture returns an empty Capture.
func NewCapture() *Capture { return &Capture{} }

// FailWith makes every later publish return err without recording. nil restores success.
func (c *Capture) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Capture) Publish(ctx context.Context, evt cbus.Event) error {
	return c.PublishTo(ctx, evt, evt.Topic())
}

func (c *Capture) PublishTo(ctx context.Context, evt cbus.Event, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	c.events = append(c.events, evt)
	c.topics = append(c.topics, topic)

	return nil
}

func (c *Capture) PublishAll(ctx context.Context, evts ...cbus.Event) {
	for _, evt := range evts {
		_ = c.Publish(ctx, evt)
	}
}

// Events returns the recorded events in publish order.
func (c *Capture) Events() []cbus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]cbus.Event(nil), c.events...)
}

// Topics returns the topic each recorded event was published on.
func (c *Capture) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.topics...)
}

// Reset drops all recordings.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.events = nil
	c.topics = nil
	c.mu.Unlock()
}
