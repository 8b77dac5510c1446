package errors

// Error codes for the event bus contracts. Keep stable; used across adapters, dispatcher and workers.
const (
	ErrCodeHandlerExists          = "eventbus.handler_exists"
	ErrCodeHandlerNotFound        = "eventbus.handler_not_found"
	ErrCodePublishFailed          = "eventbus.publish_failed"
	ErrCodeSerializationFailed    = "eventbus.serialization_failed"
	ErrCodeTransportNotConfigured = "eventbus.transport_not_configured"
	ErrCodeTransportClosed        = "eventbus.transport_closed"
	ErrCodeInvalidTopic           = "eventbus.invalid_topic"
	ErrCodeTopicExists            = "eventbus.topic_exists"
	ErrCodeUnknownTopic           = "eventbus.unknown_topic"
	ErrCodeUnknownEventKind       = "eventbus.unknown_event_kind"
	ErrCodeHandlerFailed          = "eventbus.handler_failed"
	ErrCodeHandlerPanicked        = "eventbus.handler_panicked"
	ErrCodeDispatchFailed         = "eventbus.dispatch_failed"
	ErrCodeIgnored                = "eventbus.ignored"
	ErrCodeTransient              = "eventbus.transient"
	ErrCodeAlreadyApplied         = "eventbus.already_applied"
	ErrCodeNoTopics               = "eventbus.no_topics"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound        = Code(ErrCodeHandlerNotFound)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfigured)
	ErrTransportClosed        = Code(ErrCodeTransportClosed)
	ErrInvalidTopic           = Code(ErrCodeInvalidTopic)
	ErrTopicExists            = Code(ErrCodeTopicExists)
	ErrUnknownTopic           = Code(ErrCodeUnknownTopic)
	ErrUnknownEventKind       = Code(ErrCodeUnknownEventKind)
	ErrHandlerFailed          = Code(ErrCodeHandlerFailed)
	ErrHandlerPanicked        = Code(ErrCodeHandlerPanicked)
	ErrDispatchFailed         = Code(ErrCodeDispatchFailed)
	ErrNoTopics               = Code(ErrCodeNoTopics)

	// ErrIgnored is returned by cross-context handlers for event kinds they do not act on.
	ErrIgnored = Code(ErrCodeIgnored)

	// ErrTransient marks a side-effect failure worth one retry.
	ErrTransient = Code(ErrCodeTransient)

	// ErrAlreadyApplied marks a side effect that a previous delivery already performed.
	ErrAlreadyApplied = Code(ErrCodeAlreadyApplied)
)
