package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"presale-engine/internal/domain"
	"presale-engine/internal/observability"
	"presale-engine/internal/storage"
)

// WalletLedger implements storage.WalletLedger using PostgreSQL.
type WalletLedger struct {
	pool *Pool
}

// NewWalletLedger creates a new WalletLedger.
func NewWalletLedger(pool *Pool) *WalletLedger {
	return &WalletLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletLedger = (*WalletLedger)(nil)

// Get retrieves a wallet's limit record with its full purchase history.
// Returns ErrNotFound if the wallet has never been seen.
func (s *WalletLedger) Get(ctx context.Context, wallet string) (*domain.WalletLimitRecord, error) {
	if wallet == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT wallet_address, total_spent_usd, purchase_count,
		       custom_limit_usd, blacklisted, last_purchase_at
		FROM wallet_limits
		WHERE wallet_address = $1
	`

	rec, err := scanWalletRecord(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet record: %w", err)
	}

	purchases, err := s.purchasesFor(ctx, wallet)
	if err != nil {
		return nil, err
	}
	rec.Purchases = purchases
	return rec, nil
}

// RecordPurchase appends a purchase and bumps the wallet's totals in one
// transaction. The wallet row is locked for the duration so the cap
// check and the update cannot interleave with a concurrent purchase.
func (s *WalletLedger) RecordPurchase(ctx context.Context, rec *domain.PurchaseRecord, capUSD domain.USD) (err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "record_purchase", time.Since(start).Seconds(), err) }()

	if rec == nil || rec.ID == "" || rec.WalletAddress == "" {
		return storage.ErrInvalidInput
	}
	if rec.USDAmount <= 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Create the wallet row if missing, then lock it.
	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_limits (wallet_address)
		VALUES ($1)
		ON CONFLICT (wallet_address) DO NOTHING
	`, rec.WalletAddress)
	if err != nil {
		return fmt.Errorf("ensure wallet row: %w", err)
	}

	var spent int64
	err = tx.QueryRow(ctx, `
		SELECT total_spent_usd FROM wallet_limits
		WHERE wallet_address = $1
		FOR UPDATE
	`, rec.WalletAddress).Scan(&spent)
	if err != nil {
		return fmt.Errorf("lock wallet row: %w", err)
	}

	if domain.USD(spent)+rec.USDAmount > capUSD {
		return storage.ErrLimitExceeded
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO purchases (
			purchase_id, wallet_address, usd_micro, currency, ts, round_id,
			base_tokens, bonus_percent, bonus_tokens, total_tokens,
			immediate_tokens, vested_tokens
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.WalletAddress, int64(rec.USDAmount), rec.Currency,
		rec.Timestamp, rec.RoundID,
		int64(rec.BaseTokens), rec.BonusPercent, int64(rec.BonusTokens),
		int64(rec.TotalTokens), int64(rec.ImmediateTokens), int64(rec.VestedTokens),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallet_limits
		SET total_spent_usd = total_spent_usd + $2,
		    purchase_count = purchase_count + 1,
		    last_purchase_at = $3
		WHERE wallet_address = $1
	`, rec.WalletAddress, int64(rec.USDAmount), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("update wallet totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purchase: %w", err)
	}
	return nil
}

// Reset clears spend totals and purchase history for one wallet.
// Blacklist status and custom limits survive a reset.
func (s *WalletLedger) Reset(ctx context.Context, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM purchases WHERE wallet_address = $1`, wallet); err != nil {
		return fmt.Errorf("delete purchases: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallet_limits
		SET total_spent_usd = 0,
		    purchase_count = 0,
		    last_purchase_at = NULL
		WHERE wallet_address = $1
	`, wallet)
	if err != nil {
		return fmt.Errorf("reset wallet totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// SetBlacklisted flags or unflags a wallet, creating the row if needed.
func (s *WalletLedger) SetBlacklisted(ctx context.Context, wallet string, blacklisted bool) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_limits (wallet_address, blacklisted)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET blacklisted = $2
	`, wallet, blacklisted)
	if err != nil {
		return fmt.Errorf("set blacklisted: %w", err)
	}
	return nil
}

// SetCustomLimit overrides the round-level wallet cap for one wallet.
// Zero removes the override.
func (s *WalletLedger) SetCustomLimit(ctx context.Context, wallet string, limit domain.USD) error {
	if wallet == "" || limit < 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_limits (wallet_address, custom_limit_usd)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET custom_limit_usd = $2
	`, wallet, int64(limit))
	if err != nil {
		return fmt.Errorf("set custom limit: %w", err)
	}
	return nil
}

// Wallets returns all known wallet records. Purchase histories are not
// loaded; callers aggregating stats only need the totals.
func (s *WalletLedger) Wallets(ctx context.Context) ([]*domain.WalletLimitRecord, error) {
	query := `
		SELECT wallet_address, total_spent_usd, purchase_count,
		       custom_limit_usd, blacklisted, last_purchase_at
		FROM wallet_limits
		ORDER BY wallet_address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var records []*domain.WalletLimitRecord
	for rows.Next() {
		rec, err := scanWalletRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}

	return records, nil
}

// purchasesFor loads one wallet's purchases in chronological order.
func (s *WalletLedger) purchasesFor(ctx context.Context, wallet string) ([]domain.PurchaseRecord, error) {
	query := `
		SELECT purchase_id, wallet_address, usd_micro, currency, ts, round_id,
		       base_tokens, bonus_percent, bonus_tokens, total_tokens,
		       immediate_tokens, vested_tokens
		FROM purchases
		WHERE wallet_address = $1
		ORDER BY ts ASC, purchase_id ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("get purchases: %w", err)
	}
	defer rows.Close()

	var purchases []domain.PurchaseRecord
	for rows.Next() {
		var p domain.PurchaseRecord
		var usd, base, bonus, total, immediate, vested int64

		err := rows.Scan(
			&p.ID, &p.WalletAddress, &usd, &p.Currency, &p.Timestamp, &p.RoundID,
			&base, &p.BonusPercent, &bonus, &total, &immediate, &vested,
		)
		if err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}

		p.USDAmount = domain.USD(usd)
		p.BaseTokens = domain.Tokens(base)
		p.BonusTokens = domain.Tokens(bonus)
		p.TotalTokens = domain.Tokens(total)
		p.ImmediateTokens = domain.Tokens(immediate)
		p.VestedTokens = domain.Tokens(vested)
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}

	return purchases, nil
}

// scanWalletRecord scans one wallet_limits row.
func scanWalletRecord(row pgx.Row) (*domain.WalletLimitRecord, error) {
	var rec domain.WalletLimitRecord
	var spent, customLimit int64
	var lastPurchase *time.Time

	err := row.Scan(
		&rec.WalletAddress, &spent, &rec.PurchaseCount,
		&customLimit, &rec.Blacklisted, &lastPurchase,
	)
	if err != nil {
		return nil, err
	}

	rec.TotalSpentUSD = domain.USD(spent)
	rec.CustomLimitUSD = domain.USD(customLimit)
	if lastPurchase != nil {
		rec.LastPurchaseAt = *lastPurchase
	}
	return &rec, nil
}
