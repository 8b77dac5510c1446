package event

import (
	"fmt"
	"slices"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/topic"
)

// Vocabulary is the closed set of event kinds one bounded context emits for one aggregate.
// Envelopes built through it are rejected at construction when the kind is undeclared.
type Vocabulary struct {
	context   string
	aggregate string
	kinds     []Kind
}

// NewVocabulary validates every symbol and rejects duplicate kinds.
func NewVocabulary(context, aggregate string, kinds ...Kind) (*Vocabulary, error) {
	if context == "" {
		return nil, fmt.Errorf("vocabulary: context is required: %w", berr.ErrInvalidTopic)
	}

	if err := topic.ValidateSymbol(aggregate); err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", context, err)
	}

	for i, k := range kinds {
		if err := topic.ValidateSymbol(string(k)); err != nil {
			return nil, fmt.Errorf("vocabulary %s: %w", context, err)
		}

		if slices.Contains(kinds[:i], k) {
			return nil, fmt.Errorf("vocabulary %s: %s: %w", context, k, berr.ErrTopicExists)
		}
	}

	return &Vocabulary{context: context, aggregate: aggregate, kinds: slices.Clone(kinds)}, nil
}

// MustVocabulary is NewVocabulary for package-level declarations.
func MustVocabulary(context, aggregate string, kinds ...Kind) *Vocabulary {
	v, err := NewVocabulary(context, aggregate, kinds...)
	if err != nil {
		panic(err)
	}

	return v
}

func (v *Vocabulary) Context() string   { return v.context }
func (v *Vocabulary) Aggregate() string { return v.aggregate }
func (v *Vocabulary) Kinds() []Kind     { return slices.Clone(v.kinds) }

// Has reports whether kind is declared.
func (v *Vocabulary) Has(kind Kind) bool { return slices.Contains(v.kinds, kind) }

// Validate returns ErrUnknownEventKind for an undeclared kind.
func (v *Vocabulary) Validate(kind Kind) error {
	if !v.Has(kind) {
		return fmt.Errorf("%s/%s: %q: %w", v.context, v.aggregate, kind, berr.ErrUnknownEventKind)
	}

	return nil
}

// Topic returns the routing string for a declared kind.
func (v *Vocabulary) Topic(kind Kind) (string, error) {
	if err := v.Validate(kind); err != nil {
		return "", err
	}

	return topic.Build(v.aggregate, string(kind)), nil
}

// Topics returns every topic of the vocabulary in declaration order.
func (v *Vocabulary) Topics() []string {
	out := make([]string, 0, len(v.kinds))
	for _, k := range v.kinds {
		out = append(out, topic.Build(v.aggregate, string(k)))
	}

	return out
}

// New builds an envelope for a declared kind. Empty aggregate ids still panic, as in New.
func (v *Vocabulary) New(kind Kind, aggregateID string, payload Payload, opts ...Option) (*Envelope, error) {
	if err := v.Validate(kind); err != nil {
		return nil, err
	}

	return New(kind, aggregateID, v.aggregate, payload, opts...), nil
}

// Declare registers the vocabulary's topics for discovery. Call once at startup.
func (v *Vocabulary) Declare(c *topic.Catalog) error {
	kinds := make([]string, 0, len(v.kinds))
	for _, k := range v.kinds {
		kinds = append(kinds, string(k))
	}

	return c.Register(v.aggregate, kinds...)
}
