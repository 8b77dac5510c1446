package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/topic"
)

// Kind names what happened, e.g. "user_registered". Each bounded context owns a closed set (see Vocabulary).
type Kind string

func (k Kind) String() string { return string(k) }

// Envelope is a single immutable domain notification.
type Envelope struct {
	id            string
	kind          Kind
	aggregateID   string
	aggregateKind string
	occurredAt    time.Time
	payload       Payload
	meta          Metadata
}

// New builds an envelope with a fresh id and a UTC timestamp.
// The caller payload is copied and the canonical identity fields (aggregate_id and
// <aggregate_kind>_id) are written over any caller key of the same name.
//
// New panics when kind, aggregateID or aggregateKind is empty: that is a programming
// error in the producing use case, not a runtime condition.
func New(kind Kind, aggregateID, aggregateKind string, payload Payload, opts ...Option) *Envelope {
	if kind == "" {
		panic("event: kind is required")
	}

	if aggregateID == "" {
		panic("event: aggregate id is required")
	}

	if aggregateKind == "" {
		panic("event: aggregate kind is required")
	}

	meta := Metadata{Criticality: Normal}
	for _, opt := range opts {
		opt(&meta)
	}

	return &Envelope{
		id:            uuid.NewString(),
		kind:          kind,
		aggregateID:   aggregateID,
		aggregateKind: aggregateKind,
		occurredAt:    time.Now().UTC(),
		payload:       merge(payload, canonical(aggregateKind, aggregateID)),
		meta:          meta,
	}
}

// ID returns the event id. It never changes, including across republishing.
func (e *Envelope) ID() string { return e.id }

// EventID is ID, satisfying bus.Event.
func (e *Envelope) EventID() string { return e.id }

func (e *Envelope) Kind() Kind            { return e.kind }
func (e *Envelope) AggregateID() string   { return e.aggregateID }
func (e *Envelope) AggregateKind() string { return e.aggregateKind }
func (e *Envelope) OccurredAt() time.Time { return e.occurredAt }

// Payload returns a copy of the payload.
func (e *Envelope) Payload() Payload { return e.payload.Clone() }

// Metadata returns a copy of the metadata.
func (e *Envelope) Metadata() Metadata { return e.meta }

// Criticality defaults to Normal.
func (e *Envelope) Criticality() Criticality {
	if e.meta.Criticality == "" {
		return Normal
	}

	return e.meta.Criticality
}

// Critical reports whether the event was tagged critical. Informational only.
func (e *Envelope) Critical() bool { return e.Criticality() == Critical }

// CorrelationID returns "" when absent.
func (e *Envelope) CorrelationID() string { return e.meta.CorrelationID }

// CausationID returns "" when absent.
func (e *Envelope) CausationID() string { return e.meta.CausationID }

// UserID returns "" when absent.
func (e *Envelope) UserID() string { return e.meta.UserID }

// Topic returns "aggregate_kind:event_kind".
func (e *Envelope) Topic() string { return topic.Build(e.aggregateKind, string(e.kind)) }

// PartitionKey keeps events of one aggregate together on sharded transports.
func (e *Envelope) PartitionKey() string { return e.aggregateID }

type envelopeWire struct {
	EventID       string    `json:"event_id"`
	EventKind     Kind      `json:"event_kind"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateKind string    `json:"aggregate_kind"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       Payload   `json:"payload"`
	Metadata      Metadata  `json:"metadata"`
}

func (e *Envelope) wire() envelopeWire {
	return envelopeWire{
		EventID:       e.id,
		EventKind:     e.kind,
		AggregateID:   e.aggregateID,
		AggregateKind: e.aggregateKind,
		OccurredAt:    e.occurredAt,
		Payload:       e.payload,
		Metadata:      e.meta,
	}
}

func (e *Envelope) fromWire(w envelopeWire) error {
	if w.EventID == "" || w.EventKind == "" || w.AggregateID == "" || w.AggregateKind == "" {
		return fmt.Errorf("decode envelope: missing identity: %w", berr.ErrSerializationFailed)
	}

	if w.Metadata.Criticality != Critical {
		w.Metadata.Criticality = Normal
	}

	if w.Payload == nil {
		w.Payload = Payload{}
	}

	*e = Envelope{
		id:            w.EventID,
		kind:          w.EventKind,
		aggregateID:   w.AggregateID,
		aggregateKind: w.AggregateKind,
		occurredAt:    w.OccurredAt.UTC(),
		payload:       w.Payload,
		meta:          w.Metadata,
	}

	return nil
}

// decodeJSON keeps payload numbers as json.Number so integers survive a round trip.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON implements json.Unmarshaler. The decoded envelope keeps the sender's id.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := decodeJSON(data, &w); err != nil {
		return fmt.Errorf("decode envelope: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return e.fromWire(w)
}
