// Package subscriber runs cross-context event handlers as supervised workers.
//
// A worker subscribes to a set of topics on a cbus.Transport, funnels every
// delivery through one inbox and hands decoded integration events to its handler
// one at a time. A handler panic faults only that worker: its subscriptions are
// dropped and the Supervisor starts it again after a backoff. The message being
// handled when the fault happened is not redelivered.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
)

const (
	DefaultInboxSize         = 256
	DefaultRestartBackoff    = 100 * time.Millisecond
	DefaultMaxRestartBackoff = 30 * time.Second
)

// Config tunes every worker of a Supervisor. Zero values take the defaults.
type Config struct {
	InboxSize         int           `yaml:"inbox_size"`
	RestartBackoff    time.Duration `yaml:"restart_backoff"`
	MaxRestartBackoff time.Duration `yaml:"max_restart_backoff"`

	// Propagator restores trace context from message headers before a handler runs.
	Propagator cbus.HeaderPropagator `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}

	if c.RestartBackoff <= 0 {
		c.RestartBackoff = DefaultRestartBackoff
	}

	if c.MaxRestartBackoff < c.RestartBackoff {
		c.MaxRestartBackoff = max(DefaultMaxRestartBackoff, c.RestartBackoff)
	}

	if c.Propagator == nil {
		c.Propagator = cbus.NopHeaderPropagator{}
	}

	return c
}

// Stats is a snapshot of one worker's counters.
type Stats struct {
	Starts  int64
	Faults  int64
	Handled int64
	Ignored int64
	Failed  int64
	Dropped int64
}

type counters struct {
	starts, faults, handled, ignored, failed, dropped atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Starts:  c.starts.Load(),
		Faults:  c.faults.Load(),
		Handled: c.handled.Load(),
		Ignored: c.ignored.Load(),
		Failed:  c.failed.Load(),
		Dropped: c.dropped.Load(),
	}
}

// Supervisor owns a set of named workers over one transport.
type Supervisor struct {
	transport cbus.Transport
	cfg       Config
	logger    *slog.Logger
	metrics   observability.Recorder

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// NewSupervisor creates a Supervisor. logger and metrics may be nil.
func NewSupervisor(t cbus.Transport, cfg Config, logger *slog.Logger, metrics observability.Recorder) *Supervisor {
	return &Supervisor{
		transport: t,
		cfg:       cfg.withDefaults(),
		logger:    observability.Logger(logger),
		metrics:   observability.Metrics(metrics),
		workers:   make(map[string]*worker),
	}
}

// Start subscribes a worker named name to topics and returns once its first set of
// subscriptions is live. The worker runs until ctx is done, Stop(name) or Close.
func (s *Supervisor) Start(ctx context.Context, name string, h cbus.EventHandler, topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("start %s: %w", name, berr.ErrNoTopics)
	}

	if s.transport == nil {
		return fmt.Errorf("start %s: %w", name, berr.ErrTransportNotConfigured)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("start %s: %w", name, berr.ErrTransportClosed)
	}

	if _, exists := s.workers[name]; exists {
		return fmt.Errorf("start %s: %w", name, berr.ErrHandlerExists)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &worker{
		name:    name,
		handler: h,
		topics:  slices.Clone(topics),
		sup:     s,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	first, err := w.attach(wctx)
	if err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", name, err)
	}

	s.workers[name] = w
	w.stats.starts.Add(1)

	go w.supervise(wctx, first)

	s.logger.InfoContext(ctx, "subscriber started",
		slog.String("subscriber", name),
		slog.Any("topics", topics),
	)

	return nil
}

// Stop cancels the named worker and waits for it to exit.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	w, ok := s.workers[name]
	delete(s.workers, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("stop %s: %w", name, berr.ErrHandlerNotFound)
	}

	w.cancel()
	<-w.done

	return nil
}

func (s *Supervisor) forget(w *worker) {
	s.mu.Lock()
	if s.workers[w.name] == w {
		delete(s.workers, w.name)
	}
	s.mu.Unlock()
}

// Close stops every worker and refuses further starts.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	workers := slices.Collect(maps.Values(s.workers))
	clear(s.workers)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}

	for _, w := range workers {
		<-w.done
	}

	return nil
}

// Stats returns the counters of the named worker.
func (s *Supervisor) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	w, ok := s.workers[name]
	s.mu.Unlock()

	if !ok {
		return Stats{}, false
	}

	return w.stats.snapshot(), true
}

// Names lists running workers, sorted.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.workers))
}
