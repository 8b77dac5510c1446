// Package topic converts (aggregate kind, event kind) pairs to routing strings and back,
// and keeps the discovery catalog that bounded contexts register into at startup.
package topic

import (
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Separator splits aggregate kind from event kind.
const Separator = ":"

// Build returns "aggregate:kind".
func Build(aggregate, kind string) string {
	return aggregate + Separator + kind
}

// Parse splits a topic into its aggregate and event kind.
// Malformed input yields an error wrapping ErrInvalidTopic.
func Parse(topic string) (aggregate, kind string, err error) {
	parts := strings.Split(topic, Separator)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("parse %q: %w", topic, berr.ErrInvalidTopic)
	}

	if err := ValidateSymbol(parts[0]); err != nil {
		return "", "", fmt.Errorf("parse %q aggregate: %w", topic, err)
	}

	if err := ValidateSymbol(parts[1]); err != nil {
		return "", "", fmt.Errorf("parse %q kind: %w", topic, err)
	}

	return parts[0], parts[1], nil
}

// ValidateSymbol accepts lower snake case identifiers: [a-z][a-z0-9_]*.
func ValidateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("empty symbol: %w", berr.ErrInvalidTopic)
	}

	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return fmt.Errorf("symbol %q: %w", s, berr.ErrInvalidTopic)
		}
	}

	return nil
}
