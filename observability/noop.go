package observability

import "context"

// Noop discards all metrics.
type Noop struct{}

func (Noop) RecordPublish(context.Context, string, error) {}
func (Noop) RecordDispatch(context.Context, string, string, int, int) {}
func (Noop) RecordDelivery(context.Context, string, string, string) {}
func (Noop) RecordSubscriberFault(context.Context, string) {}
func (Noop) RecordRetry(context.Context, string, string) {}

// Metrics returns r, or Noop when r is nil.
func Metrics(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}

	return r
}
