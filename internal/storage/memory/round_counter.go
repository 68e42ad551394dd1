package memory

import (
	"context"
	"sync"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// RoundCounter is an in-memory implementation of storage.RoundCounter.
type RoundCounter struct {
	mu   sync.Mutex
	sold map[string]domain.Tokens // keyed by round ID
}

// NewRoundCounter creates a new in-memory round counter.
func NewRoundCounter() *RoundCounter {
	return &RoundCounter{
		sold: make(map[string]domain.Tokens),
	}
}

// Sold returns the tokens sold so far for a round (zero if none).
func (c *RoundCounter) Sold(_ context.Context, roundID string) (domain.Tokens, error) {
	if roundID == "" {
		return 0, storage.ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sold[roundID], nil
}

// Reserve atomically checks sold + amount <= capTokens and increments on
// success.
func (c *RoundCounter) Reserve(_ context.Context, roundID string, amount, capTokens domain.Tokens) error {
	if roundID == "" || amount <= 0 {
		return storage.ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sold[roundID]+amount > capTokens {
		return storage.ErrAllocationExceeded
	}
	c.sold[roundID] += amount
	return nil
}

// Release undoes a reservation. Never drops the counter below zero.
func (c *RoundCounter) Release(_ context.Context, roundID string, amount domain.Tokens) error {
	if roundID == "" || amount <= 0 {
		return storage.ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if amount > c.sold[roundID] {
		c.sold[roundID] = 0
		return nil
	}
	c.sold[roundID] -= amount
	return nil
}

// Verify interface compliance at compile time.
var _ storage.RoundCounter = (*RoundCounter)(nil)
