// Package idempotency records which events a consumer has already applied, so that
// redelivered or reprocessed events surface as errors.ErrAlreadyApplied instead of
// repeating their side effects.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// ErrStoreClosed is returned by a closed store.
var ErrStoreClosed = berr.Code("eventbus.store_closed")

// Store is a processed-event ledger keyed by consumer and event id.
type Store interface {
	// Claim marks eventID as applied for consumer. It returns an error wrapping
	// ErrAlreadyApplied when the pair was claimed before.
	Claim(ctx context.Context, consumer, eventID string) error
	// Release forgets a claim so the event can be applied again.
	Release(ctx context.Context, consumer, eventID string) error
}

// Apply claims (consumer, eventID), runs fn and releases the claim if fn fails.
// A prior claim short-circuits with ErrAlreadyApplied, which retry treats as success.
func Apply(ctx context.Context, s Store, consumer, eventID string, fn func(ctx context.Context) error) error {
	if err := s.Claim(ctx, consumer, eventID); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if rerr := s.Release(context.WithoutCancel(ctx), consumer, eventID); rerr != nil {
			return errors.Join(err, fmt.Errorf("release %s/%s: %w", consumer, eventID, rerr))
		}

		return err
	}

	return nil
}

type claimKey struct{ consumer, eventID string }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	claimed map[claimKey]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claimed: make(map[claimKey]struct{})}
}

func (m *MemoryStore) Claim(ctx context.Context, consumer, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := claimKey{consumer, eventID}
	if _, ok := m.claimed[k]; ok {
		return fmt.Errorf("claim %s/%s: %w", consumer, eventID, berr.ErrAlreadyApplied)
	}

	m.claimed[k] = struct{}{}

	return nil
}

func (m *MemoryStore) Release(_ context.Context, consumer, eventID string) error {
	m.mu.Lock()
	delete(m.claimed, claimKey{consumer, eventID})
	m.mu.Unlock()

	return nil
}

// Len reports the number of claims.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.claimed)
}
