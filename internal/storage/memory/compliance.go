package memory

import (
	"context"
	"sync"

	"presale-engine/internal/storage"
)

// ComplianceRegistry is an in-memory implementation of
// storage.ComplianceRegistry.
type ComplianceRegistry struct {
	mu          sync.RWMutex
	whitelisted map[string]bool
	kycVerified map[string]bool
}

// NewComplianceRegistry creates a new in-memory compliance registry.
func NewComplianceRegistry() *ComplianceRegistry {
	return &ComplianceRegistry{
		whitelisted: make(map[string]bool),
		kycVerified: make(map[string]bool),
	}
}

func (r *ComplianceRegistry) IsWhitelisted(_ context.Context, wallet string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.whitelisted[wallet], nil
}

func (r *ComplianceRegistry) IsKYCVerified(_ context.Context, wallet string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kycVerified[wallet], nil
}

func (r *ComplianceRegistry) SetWhitelisted(_ context.Context, wallet string, whitelisted bool) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelisted[wallet] = whitelisted
	return nil
}

func (r *ComplianceRegistry) SetKYCVerified(_ context.Context, wallet string, verified bool) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.kycVerified[wallet] = verified
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ComplianceRegistry = (*ComplianceRegistry)(nil)
