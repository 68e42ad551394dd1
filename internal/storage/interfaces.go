package storage

import (
	"context"

	"presale-engine/internal/domain"
)

// WalletLedger provides access to per-wallet spend tracking. It is the
// authority for "has this wallet hit its cap".
type WalletLedger interface {
	// Get retrieves the limit record for a wallet. Returns ErrNotFound
	// if the wallet has never been seen.
	Get(ctx context.Context, wallet string) (*domain.WalletLimitRecord, error)

	// RecordPurchase appends a purchase and bumps the wallet's totals in
	// a single logical transaction. The cap is re-checked inside the
	// transaction: returns ErrLimitExceeded if TotalSpentUSD + amount
	// would exceed capUSD (the wallet's effective cap). Returns
	// ErrDuplicateKey if the purchase ID already exists.
	RecordPurchase(ctx context.Context, rec *domain.PurchaseRecord, capUSD domain.USD) error

	// Reset clears spend totals and purchase history for one wallet.
	// Admin escape hatch; authorization happens in the engine.
	Reset(ctx context.Context, wallet string) error

	// SetBlacklisted flags or unflags a wallet. Creates the record if
	// the wallet has never purchased.
	SetBlacklisted(ctx context.Context, wallet string, blacklisted bool) error

	// SetCustomLimit overrides the round-level wallet cap for one
	// wallet. Zero removes the override.
	SetCustomLimit(ctx context.Context, wallet string, limit domain.USD) error

	// Wallets returns all known wallet records, for aggregate stats.
	Wallets(ctx context.Context) ([]*domain.WalletLimitRecord, error)
}

// VestingStore provides access to vesting unlock events. Events are
// created together with their owning purchase and share its lifecycle.
type VestingStore interface {
	// InsertSchedule adds a purchase's full unlock schedule atomically.
	// Returns ErrDuplicateKey if any event ID already exists.
	InsertSchedule(ctx context.Context, events []*domain.VestingUnlockEvent) error

	// GetByPurchase retrieves a purchase's events ordered by month ASC.
	GetByPurchase(ctx context.Context, purchaseID string) ([]*domain.VestingUnlockEvent, error)

	// GetByWallet retrieves all events for a wallet across purchases,
	// ordered by unlock date then month ASC.
	GetByWallet(ctx context.Context, wallet string) ([]*domain.VestingUnlockEvent, error)

	// MarkClaimed flips the claimed flag for the given events. Every ID
	// must exist and be unclaimed: unknown IDs fail the whole batch with
	// ErrNotFound, already-claimed IDs with ErrAlreadyClaimed, and no
	// event is marked on failure. The flag never reverts.
	MarkClaimed(ctx context.Context, eventIDs []string) error

	// DeleteByPurchase removes one purchase's events. Used to unwind a
	// partially committed purchase.
	DeleteByPurchase(ctx context.Context, purchaseID string) error

	// DeleteByWallet removes all events for a wallet. Used only by the
	// admin wallet reset (events have no independent lifecycle).
	DeleteByWallet(ctx context.Context, wallet string) error
}

// RoundCounter tracks tokens sold per round. Reserve is the only write
// path during a purchase and must be atomic with its cap check.
type RoundCounter interface {
	// Sold returns the tokens sold so far for a round (zero if none).
	Sold(ctx context.Context, roundID string) (domain.Tokens, error)

	// Reserve atomically checks sold + amount <= capTokens and
	// increments on success. Returns ErrAllocationExceeded otherwise.
	Reserve(ctx context.Context, roundID string, amount, capTokens domain.Tokens) error

	// Release undoes a reservation when a later step of purchase
	// acceptance fails. Never drops the counter below zero.
	Release(ctx context.Context, roundID string, amount domain.Tokens) error
}

// ComplianceRegistry tracks whitelist and KYC status per wallet.
type ComplianceRegistry interface {
	IsWhitelisted(ctx context.Context, wallet string) (bool, error)
	IsKYCVerified(ctx context.Context, wallet string) (bool, error)
	SetWhitelisted(ctx context.Context, wallet string, whitelisted bool) error
	SetKYCVerified(ctx context.Context, wallet string, verified bool) error
}
