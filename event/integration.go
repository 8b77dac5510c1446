package event

import (
	"encoding/json"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Integration is the only representation allowed across a bounded-context boundary.
// It names its source context and the entity it is about, and carries primitives only.
type Integration struct {
	Envelope
	sourceContext string
	entityKind    string
	entityID      string
}

// NewIntegration promotes a domain event. The result has its own id, is caused by
// from, inherits its correlation, user and criticality, and keeps only the primitive
// values of payload. An empty entityKind means the domain event's aggregate.
func NewIntegration(source string, from *Envelope, entityKind string, payload Payload, opts ...Option) *Integration {
	if source == "" {
		panic("event: source context is required")
	}

	entityID := from.AggregateID()
	if entityKind == "" {
		entityKind = from.AggregateKind()
	}

	base := []Option{
		CausedBy(from),
		WithUserID(from.UserID()),
		WithCriticality(from.Criticality()),
	}

	env := New(from.Kind(), entityID, entityKind, payload.Primitive(), append(base, opts...)...)

	return &Integration{
		Envelope:      *env,
		sourceContext: source,
		entityKind:    entityKind,
		entityID:      entityID,
	}
}

func (i *Integration) SourceContext() string { return i.sourceContext }
func (i *Integration) EntityKind() string    { return i.entityKind }
func (i *Integration) EntityID() string      { return i.entityID }

type integrationWire struct {
	envelopeWire
	SourceContext string `json:"source_context,omitempty"`
	EntityKind    string `json:"entity_kind,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (i *Integration) MarshalJSON() ([]byte, error) {
	return json.Marshal(integrationWire{
		envelopeWire:  i.wire(),
		SourceContext: i.sourceContext,
		EntityKind:    i.entityKind,
		EntityID:      i.entityID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A plain envelope decodes with empty source fields.
func (i *Integration) UnmarshalJSON(data []byte) error {
	var w integrationWire
	if err := decodeJSON(data, &w); err != nil {
		return fmt.Errorf("decode integration: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	if err := i.Envelope.fromWire(w.envelopeWire); err != nil {
		return err
	}

	i.sourceContext = w.SourceContext
	i.entityKind = w.EntityKind
	i.entityID = w.EntityID

	return nil
}

// Decode parses a wire body into an Integration.
func Decode(body []byte) (*Integration, error) {
	var i Integration
	if err := json.Unmarshal(body, &i); err != nil {
		return nil, err
	}

	return &i, nil
}
