package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/observability"
)

type worker struct {
	name    string
	handler cbus.EventHandler
	topics  []string
	sup     *Supervisor
	cancel  context.CancelFunc
	done    chan struct{}
	stats   counters
}

// run is one incarnation of a worker: its inbox and live subscriptions.
type run struct {
	inbox  chan cbus.Message
	subs   []cbus.Subscription
	cancel context.CancelFunc
}

func (r *run) detach(logger *slog.Logger, name string) {
	r.cancel()

	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("unsubscribe failed", slog.String("subscriber", name), slog.String("error", err.Error()))
		}
	}
}

func (w *worker) attach(ctx context.Context) (*run, error) {
	rctx, cancel := context.WithCancel(ctx)
	r := &run{inbox: make(chan cbus.Message, w.sup.cfg.InboxSize), cancel: cancel}

	push := func(_ context.Context, msg cbus.Message) {
		select {
		case r.inbox <- msg:
		case <-rctx.Done():
		}
	}

	for _, tp := range w.topics {
		sub, err := w.sup.transport.Subscribe(rctx, tp, push)
		if err != nil {
			r.detach(w.sup.logger, w.name)
			return nil, err
		}

		r.subs = append(r.subs, sub)
	}

	return r, nil
}

func (w *worker) supervise(ctx context.Context, r *run) {
	defer close(w.done)
	defer w.sup.forget(w)

	cfg := w.sup.cfg
	logger := w.sup.logger
	backoff := cfg.RestartBackoff
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		started := time.Now()
		faulted := w.process(ctx, r)
		r.detach(logger, w.name)

		if !faulted || ctx.Err() != nil {
			return
		}

		if time.Since(started) > cfg.MaxRestartBackoff {
			backoff = cfg.RestartBackoff
		}

		for {
			sleep := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
			if sleep > cfg.MaxRestartBackoff {
				sleep = cfg.MaxRestartBackoff
			}

			backoff = min(backoff*2, cfg.MaxRestartBackoff)

			logger.Warn("restarting subscriber",
				slog.String("subscriber", w.name),
				slog.Duration("backoff", sleep),
			)

			t := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			next, err := w.attach(ctx)
			if err == nil {
				r = next
				break
			}

			logger.Error("subscriber restart failed",
				slog.String("subscriber", w.name),
				slog.String("error", err.Error()),
			)
		}

		w.stats.starts.Add(1)
	}
}

// process drains the inbox until ctx is done or the handler panics.
func (w *worker) process(ctx context.Context, r *run) (faulted bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg := <-r.inbox:
			if w.handle(ctx, msg) {
				return true
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, msg cbus.Message) (panicked bool) {
	logger := w.sup.logger
	metrics := w.sup.metrics

	evt, err := event.Decode(msg.Body)
	if err != nil {
		w.stats.dropped.Add(1)
		metrics.RecordDelivery(ctx, w.name, msg.Topic, observability.OutcomeDropped)
		logger.WarnContext(ctx, "undecodable message dropped",
			slog.String("subscriber", w.name),
			slog.String("topic", msg.Topic),
			slog.String("error", err.Error()),
		)

		return false
	}

	hctx := w.sup.cfg.Propagator.Extract(ctx, msg.Headers)

	defer func() {
		if rec := recover(); rec != nil {
			panicked = true

			w.stats.faults.Add(1)
			metrics.RecordSubscriberFault(ctx, w.name)
			logger.ErrorContext(ctx, "subscriber faulted",
				slog.String("subscriber", w.name),
				slog.String("topic", msg.Topic),
				slog.String("event_id", evt.ID()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	err = w.handler.HandleEvent(hctx, evt)

	switch {
	case err == nil:
		w.stats.handled.Add(1)
		metrics.RecordDelivery(ctx, w.name, msg.Topic, observability.OutcomeHandled)
	case errors.Is(err, berr.ErrIgnored):
		w.stats.ignored.Add(1)
		metrics.RecordDelivery(ctx, w.name, msg.Topic, observability.OutcomeIgnored)
		logger.DebugContext(ctx, "event ignored",
			slog.String("subscriber", w.name),
			slog.String("event_kind", string(evt.Kind())),
		)
	default:
		w.stats.failed.Add(1)
		metrics.RecordDelivery(ctx, w.name, msg.Topic, observability.OutcomeFailed)
		logger.ErrorContext(ctx, "event handler failed",
			slog.String("subscriber", w.name),
			slog.String("topic", msg.Topic),
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
	}

	return false
}
