package topic

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Catalog lists the topics each aggregate publishes, for discovery tooling.
// Bounded contexts register their own kinds at startup; routing never consults it.
type Catalog struct {
	mu     sync.RWMutex
	byAggr map[string][]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byAggr: make(map[string][]string)}
}

// Register adds event kinds for an aggregate. Every symbol is validated and a kind
// already registered for the aggregate is rejected with ErrTopicExists.
func (c *Catalog) Register(aggregate string, kinds ...string) error {
	if err := ValidateSymbol(aggregate); err != nil {
		return fmt.Errorf("register aggregate: %w", err)
	}

	for _, k := range kinds {
		if err := ValidateSymbol(k); err != nil {
			return fmt.Errorf("register %s: %w", aggregate, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.byAggr[aggregate]
	for i, k := range kinds {
		if slices.Contains(existing, k) || slices.Contains(kinds[:i], k) {
			return fmt.Errorf("register %s: %w", Build(aggregate, k), berr.ErrTopicExists)
		}
	}

	c.byAggr[aggregate] = append(existing, kinds...)

	return nil
}

// Topics returns the sorted topics registered for an aggregate.
func (c *Catalog) Topics(aggregate string) []string {
	c.mu.RLock()
	kinds := c.byAggr[aggregate]
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Build(aggregate, k))
	}
	c.mu.RUnlock()

	sort.Strings(out)

	return out
}

// Aggregates returns the sorted registered aggregate kinds.
func (c *Catalog) Aggregates() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.byAggr))
	for a := range c.byAggr {
		out = append(out, a)
	}
	c.mu.RUnlock()

	sort.Strings(out)

	return out
}

// All returns every registered topic, sorted.
func (c *Catalog) All() []string {
	var out []string
	for _, a := range c.Aggregates() {
		out = append(out, c.Topics(a)...)
	}

	return out
}

// Lookup parses a topic and reports whether it was registered.
func (c *Catalog) Lookup(topic string) (aggregate, kind string, err error) {
	aggregate, kind, err = Parse(topic)
	if err != nil {
		return "", "", err
	}

	c.mu.RLock()
	ok := slices.Contains(c.byAggr[aggregate], kind)
	c.mu.RUnlock()

	if !ok {
		return "", "", fmt.Errorf("lookup %q: %w", topic, berr.ErrUnknownTopic)
	}

	return aggregate, kind, nil
}
