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

// VestingStore implements storage.VestingStore using PostgreSQL.
type VestingStore struct {
	pool *Pool
}

// NewVestingStore creates a new VestingStore.
func NewVestingStore(pool *Pool) *VestingStore {
	return &VestingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VestingStore = (*VestingStore)(nil)

// InsertSchedule adds a purchase's full unlock schedule atomically.
// Returns ErrDuplicateKey if any event ID already exists.
func (s *VestingStore) InsertSchedule(ctx context.Context, events []*domain.VestingUnlockEvent) (err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "insert_schedule", time.Since(start).Seconds(), err) }()

	if len(events) == 0 {
		return storage.ErrInvalidInput
	}
	for _, ev := range events {
		if ev == nil || ev.ID == "" || ev.PurchaseID == "" || ev.WalletAddress == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO vesting_unlocks (
				event_id, purchase_id, wallet_address, month,
				unlock_date, amount, claimed
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			ev.ID, ev.PurchaseID, ev.WalletAddress, ev.Month,
			ev.UnlockDate, int64(ev.Amount), ev.Claimed,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert unlock event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schedule: %w", err)
	}
	return nil
}

// GetByPurchase retrieves a purchase's events ordered by month ASC.
func (s *VestingStore) GetByPurchase(ctx context.Context, purchaseID string) ([]*domain.VestingUnlockEvent, error) {
	if purchaseID == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT event_id, purchase_id, wallet_address, month,
		       unlock_date, amount, claimed
		FROM vesting_unlocks
		WHERE purchase_id = $1
		ORDER BY month ASC
	`

	rows, err := s.pool.Query(ctx, query, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("get events by purchase: %w", err)
	}
	defer rows.Close()

	return scanUnlockEvents(rows)
}

// GetByWallet retrieves all events for a wallet across purchases,
// ordered by unlock date then month ASC.
func (s *VestingStore) GetByWallet(ctx context.Context, wallet string) ([]*domain.VestingUnlockEvent, error) {
	if wallet == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT event_id, purchase_id, wallet_address, month,
		       unlock_date, amount, claimed
		FROM vesting_unlocks
		WHERE wallet_address = $1
		ORDER BY unlock_date ASC, month ASC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("get events by wallet: %w", err)
	}
	defer rows.Close()

	return scanUnlockEvents(rows)
}

// MarkClaimed flips the claimed flag for the given events. All IDs must
// exist and be unclaimed: unknown IDs fail the batch with ErrNotFound,
// already-claimed IDs with ErrAlreadyClaimed, and the transaction rolls
// back either way so a stale claim cannot mark a second time.
func (s *VestingStore) MarkClaimed(ctx context.Context, eventIDs []string) (err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery("postgres", "mark_claimed", time.Since(start).Seconds(), err) }()

	if len(eventIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM vesting_unlocks WHERE event_id = ANY($1)
	`, eventIDs).Scan(&count)
	if err != nil {
		return fmt.Errorf("count unlock events: %w", err)
	}
	if count != len(eventIDs) {
		return storage.ErrNotFound
	}

	tag, err := tx.Exec(ctx, `
		UPDATE vesting_unlocks SET claimed = TRUE
		WHERE event_id = ANY($1) AND claimed = FALSE
	`, eventIDs)
	if err != nil {
		return fmt.Errorf("mark claimed: %w", err)
	}
	if tag.RowsAffected() != int64(len(eventIDs)) {
		return storage.ErrAlreadyClaimed
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// DeleteByPurchase removes one purchase's events.
func (s *VestingStore) DeleteByPurchase(ctx context.Context, purchaseID string) error {
	if purchaseID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM vesting_unlocks WHERE purchase_id = $1`, purchaseID)
	if err != nil {
		return fmt.Errorf("delete events by purchase: %w", err)
	}
	return nil
}

// DeleteByWallet removes all events for a wallet.
func (s *VestingStore) DeleteByWallet(ctx context.Context, wallet string) error {
	if wallet == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM vesting_unlocks WHERE wallet_address = $1`, wallet)
	if err != nil {
		return fmt.Errorf("delete events by wallet: %w", err)
	}
	return nil
}

// scanUnlockEvents scans multiple rows into unlock events.
func scanUnlockEvents(rows pgx.Rows) ([]*domain.VestingUnlockEvent, error) {
	var events []*domain.VestingUnlockEvent

	for rows.Next() {
		var ev domain.VestingUnlockEvent
		var amount int64

		err := rows.Scan(
			&ev.ID, &ev.PurchaseID, &ev.WalletAddress, &ev.Month,
			&ev.UnlockDate, &amount, &ev.Claimed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan unlock event row: %w", err)
		}

		ev.Amount = domain.Tokens(amount)
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlock event rows: %w", err)
	}

	return events, nil
}
