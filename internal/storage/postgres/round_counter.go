package postgres

import (
	"context"
	"fmt"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/observability"
	"presale-engine/internal/storage"
)

// RoundCounter implements storage.RoundCounter using PostgreSQL.
type RoundCounter struct {
	pool *Pool
}

// NewRoundCounter creates a new RoundCounter.
func NewRoundCounter(pool *Pool) *RoundCounter {
	return &RoundCounter{pool: pool}
}

// Compile-time interface check.
var _ storage.RoundCounter = (*RoundCounter)(nil)

// Sold returns the tokens sold so far for a round (zero if none).
func (s *RoundCounter) Sold(ctx context.Context, roundID string) (domain.Tokens, error) {
	if roundID == "" {
		return 0, storage.ErrInvalidInput
	}

	var sold int64
	err := s.pool.QueryRow(ctx, `
		SELECT sold FROM round_counters WHERE round_id = $1
	`, roundID).Scan(&sold)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get round counter: %w", err)
	}
	return domain.Tokens(sold), nil
}

// Reserve atomically checks sold + amount <= capTokens and increments
// on success. The cap check rides in the UPDATE's WHERE clause, so
// concurrent reservations serialize on the row lock.
func (s *RoundCounter) Reserve(ctx context.Context, roundID string, amount, capTokens domain.Tokens) (err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "reserve_allocation", time.Since(start).Seconds(), err) }()

	if roundID == "" || amount <= 0 || capTokens <= 0 {
		return storage.ErrInvalidInput
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO round_counters (round_id, sold)
		VALUES ($1, 0)
		ON CONFLICT (round_id) DO NOTHING
	`, roundID)
	if err != nil {
		return fmt.Errorf("ensure round counter: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE round_counters
		SET sold = sold + $2
		WHERE round_id = $1 AND sold + $2 <= $3
	`, roundID, int64(amount), int64(capTokens))
	if err != nil {
		return fmt.Errorf("reserve allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAllocationExceeded
	}
	return nil
}

// Release undoes a reservation. Never drops the counter below zero.
func (s *RoundCounter) Release(ctx context.Context, roundID string, amount domain.Tokens) error {
	if roundID == "" || amount <= 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE round_counters
		SET sold = GREATEST(sold - $2, 0)
		WHERE round_id = $1
	`, roundID, int64(amount))
	if err != nil {
		return fmt.Errorf("release allocation: %w", err)
	}
	return nil
}
