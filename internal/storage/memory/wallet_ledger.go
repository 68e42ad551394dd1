package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// WalletLedger is an in-memory implementation of storage.WalletLedger.
type WalletLedger struct {
	mu          sync.RWMutex
	data        map[string]*domain.WalletLimitRecord // keyed by wallet address
	purchaseIDs map[string]bool                      // global purchase ID set
}

// NewWalletLedger creates a new in-memory wallet ledger.
func NewWalletLedger() *WalletLedger {
	return &WalletLedger{
		data:        make(map[string]*domain.WalletLimitRecord),
		purchaseIDs: make(map[string]bool),
	}
}

// Get retrieves the limit record for a wallet. Returns ErrNotFound if the
// wallet has never been seen.
func (l *WalletLedger) Get(_ context.Context, wallet string) (*domain.WalletLimitRecord, error) {
	if wallet == "" {
		return nil, storage.ErrInvalidInput
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, exists := l.data[wallet]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyRecord(rec), nil
}

// RecordPurchase appends a purchase and bumps totals atomically. The cap
// is re-checked under the write lock so two concurrent purchases from the
// same wallet cannot both pass.
func (l *WalletLedger) RecordPurchase(_ context.Context, rec *domain.PurchaseRecord, capUSD domain.USD) error {
	if rec == nil || rec.ID == "" || rec.WalletAddress == "" || rec.USDAmount <= 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.purchaseIDs[rec.ID] {
		return storage.ErrDuplicateKey
	}

	w, exists := l.data[rec.WalletAddress]
	if !exists {
		w = &domain.WalletLimitRecord{WalletAddress: rec.WalletAddress}
		l.data[rec.WalletAddress] = w
	}

	if w.TotalSpentUSD+rec.USDAmount > capUSD {
		return storage.ErrLimitExceeded
	}

	w.Purchases = append(w.Purchases, *rec)
	w.TotalSpentUSD += rec.USDAmount
	w.PurchaseCount++
	w.LastPurchaseAt = rec.Timestamp
	l.purchaseIDs[rec.ID] = true
	return nil
}

// Reset clears spend totals and purchase history for one wallet.
// Blacklist and custom-limit flags survive the reset.
func (l *WalletLedger) Reset(_ context.Context, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.data[wallet]
	if !exists {
		return nil
	}

	for _, p := range w.Purchases {
		delete(l.purchaseIDs, p.ID)
	}
	w.TotalSpentUSD = 0
	w.PurchaseCount = 0
	w.Purchases = nil
	w.LastPurchaseAt = time.Time{}
	return nil
}

// SetBlacklisted flags or unflags a wallet.
func (l *WalletLedger) SetBlacklisted(_ context.Context, wallet string, blacklisted bool) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.data[wallet]
	if !exists {
		w = &domain.WalletLimitRecord{WalletAddress: wallet}
		l.data[wallet] = w
	}
	w.Blacklisted = blacklisted
	return nil
}

// SetCustomLimit overrides the round-level wallet cap for one wallet.
func (l *WalletLedger) SetCustomLimit(_ context.Context, wallet string, limit domain.USD) error {
	if wallet == "" || limit < 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.data[wallet]
	if !exists {
		w = &domain.WalletLimitRecord{WalletAddress: wallet}
		l.data[wallet] = w
	}
	w.CustomLimitUSD = limit
	return nil
}

// Wallets returns all known wallet records sorted by address.
func (l *WalletLedger) Wallets(_ context.Context) ([]*domain.WalletLimitRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.WalletLimitRecord, 0, len(l.data))
	for _, w := range l.data {
		result = append(result, copyRecord(w))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].WalletAddress < result[j].WalletAddress
	})

	return result, nil
}

// copyRecord returns a deep copy to prevent external mutation.
func copyRecord(w *domain.WalletLimitRecord) *domain.WalletLimitRecord {
	recCopy := *w
	recCopy.Purchases = make([]domain.PurchaseRecord, len(w.Purchases))
	copy(recCopy.Purchases, w.Purchases)
	return &recCopy
}

// Verify interface compliance at compile time.
var _ storage.WalletLedger = (*WalletLedger)(nil)
