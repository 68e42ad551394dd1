package memory

import (
	"context"
	"sort"
	"sync"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// VestingStore is an in-memory implementation of storage.VestingStore.
type VestingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.VestingUnlockEvent // keyed by event ID
}

// NewVestingStore creates a new in-memory vesting store.
func NewVestingStore() *VestingStore {
	return &VestingStore{
		data: make(map[string]*domain.VestingUnlockEvent),
	}
}

// InsertSchedule adds a purchase's full unlock schedule atomically.
// Returns ErrDuplicateKey if any event ID already exists; nothing is
// inserted in that case.
func (s *VestingStore) InsertSchedule(_ context.Context, events []*domain.VestingUnlockEvent) error {
	if len(events) == 0 {
		return storage.ErrInvalidInput
	}
	for _, e := range events {
		if e == nil || e.ID == "" || e.PurchaseID == "" || e.WalletAddress == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, exists := s.data[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
	}

	for _, e := range events {
		eventCopy := *e
		s.data[e.ID] = &eventCopy
	}
	return nil
}

// GetByPurchase retrieves a purchase's events ordered by month ASC.
func (s *VestingStore) GetByPurchase(_ context.Context, purchaseID string) ([]*domain.VestingUnlockEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VestingUnlockEvent
	for _, e := range s.data {
		if e.PurchaseID == purchaseID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Month < result[j].Month
	})

	return result, nil
}

// GetByWallet retrieves all events for a wallet across purchases,
// ordered by unlock date then month ASC.
func (s *VestingStore) GetByWallet(_ context.Context, wallet string) ([]*domain.VestingUnlockEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VestingUnlockEvent
	for _, e := range s.data {
		if e.WalletAddress == wallet {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UnlockDate.Equal(result[j].UnlockDate) {
			return result[i].UnlockDate.Before(result[j].UnlockDate)
		}
		return result[i].Month < result[j].Month
	})

	return result, nil
}

// MarkClaimed flips the claimed flag for the given events. Every ID must
// exist and be unclaimed; otherwise the whole batch fails and nothing is
// marked. A claim working from a stale snapshot therefore cannot mark a
// second time.
func (s *VestingStore) MarkClaimed(_ context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		e, exists := s.data[id]
		if !exists {
			return storage.ErrNotFound
		}
		if e.Claimed {
			return storage.ErrAlreadyClaimed
		}
	}

	for _, id := range eventIDs {
		s.data[id].Claimed = true
	}
	return nil
}

// DeleteByPurchase removes one purchase's events.
func (s *VestingStore) DeleteByPurchase(_ context.Context, purchaseID string) error {
	if purchaseID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.data {
		if e.PurchaseID == purchaseID {
			delete(s.data, id)
		}
	}
	return nil
}

// DeleteByWallet removes all events for a wallet.
func (s *VestingStore) DeleteByWallet(_ context.Context, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.data {
		if e.WalletAddress == wallet {
			delete(s.data, id)
		}
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.VestingStore = (*VestingStore)(nil)
