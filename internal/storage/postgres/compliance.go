package postgres

import (
	"context"
	"fmt"

	"presale-engine/internal/storage"
)

// ComplianceRegistry implements storage.ComplianceRegistry using PostgreSQL.
type ComplianceRegistry struct {
	pool *Pool
}

// NewComplianceRegistry creates a new ComplianceRegistry.
func NewComplianceRegistry(pool *Pool) *ComplianceRegistry {
	return &ComplianceRegistry{pool: pool}
}

// Compile-time interface check.
var _ storage.ComplianceRegistry = (*ComplianceRegistry)(nil)

func (s *ComplianceRegistry) IsWhitelisted(ctx context.Context, wallet string) (bool, error) {
	return s.flag(ctx, wallet, "whitelisted")
}

func (s *ComplianceRegistry) IsKYCVerified(ctx context.Context, wallet string) (bool, error) {
	return s.flag(ctx, wallet, "kyc_verified")
}

func (s *ComplianceRegistry) SetWhitelisted(ctx context.Context, wallet string, whitelisted bool) error {
	return s.setFlag(ctx, wallet, "whitelisted", whitelisted)
}

func (s *ComplianceRegistry) SetKYCVerified(ctx context.Context, wallet string, verified bool) error {
	return s.setFlag(ctx, wallet, "kyc_verified", verified)
}

// flag reads one boolean column; unknown wallets read as false.
// column is always one of the two fixed names above, never user input.
func (s *ComplianceRegistry) flag(ctx context.Context, wallet, column string) (bool, error) {
	if wallet == "" {
		return false, storage.ErrInvalidInput
	}

	var value bool
	query := fmt.Sprintf(`SELECT %s FROM compliance WHERE wallet_address = $1`, column)
	err := s.pool.QueryRow(ctx, query, wallet).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("get %s flag: %w", column, err)
	}
	return value, nil
}

func (s *ComplianceRegistry) setFlag(ctx context.Context, wallet, column string, value bool) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	query := fmt.Sprintf(`
		INSERT INTO compliance (wallet_address, %[1]s)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET %[1]s = $2
	`, column)
	if _, err := s.pool.Exec(ctx, query, wallet, value); err != nil {
		return fmt.Errorf("set %s flag: %w", column, err)
	}
	return nil
}
