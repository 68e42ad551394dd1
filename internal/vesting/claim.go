package vesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// ErrNothingToClaim is reported when a claim finds zero unlockable
// tokens. Informational: callers may treat it as a no-op rather than a
// failure.
var ErrNothingToClaim = errors.New("nothing to claim")

// Engine resolves and executes claims against stored schedules.
type Engine struct {
	store storage.VestingStore
}

// NewEngine creates a claim engine over a vesting store.
func NewEngine(store storage.VestingStore) *Engine {
	return &Engine{store: store}
}

// Claimable returns the wallet's currently claimable events and total
// without mutating anything.
func (e *Engine) Claimable(ctx context.Context, wallet string, now time.Time) (domain.ClaimableSnapshot, error) {
	schedule, err := e.store.GetByWallet(ctx, wallet)
	if err != nil {
		return domain.ClaimableSnapshot{}, fmt.Errorf("load schedule: %w", err)
	}
	return Claimable(schedule, now), nil
}

// Claim marks all currently claimable events as claimed and returns the
// snapshot that was true immediately before the mutation. A second call
// with no elapsed time returns ErrNothingToClaim with a zero snapshot;
// claimed flags never revert.
func (e *Engine) Claim(ctx context.Context, wallet string, now time.Time) (domain.ClaimableSnapshot, error) {
	snapshot, err := e.Claimable(ctx, wallet, now)
	if err != nil {
		return domain.ClaimableSnapshot{}, err
	}
	if snapshot.Total == 0 {
		return domain.ClaimableSnapshot{}, ErrNothingToClaim
	}

	ids := make([]string, len(snapshot.Claimable))
	for i, event := range snapshot.Claimable {
		ids[i] = event.ID
	}
	if err := e.store.MarkClaimed(ctx, ids); err != nil {
		// A concurrent claim got there first; the tokens were issued
		// exactly once, just not to this call.
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			return domain.ClaimableSnapshot{}, ErrNothingToClaim
		}
		return domain.ClaimableSnapshot{}, fmt.Errorf("mark claimed: %w", err)
	}

	return snapshot, nil
}
