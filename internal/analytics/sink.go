package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"presale-engine/internal/events"
)

// PurchaseEventRow is one analytics row. Rows are append-only;
// ReplacingMergeTree collapses replays on (event_kind, purchase_id).
type PurchaseEventRow struct {
	EventKind     string
	PurchaseID    string
	WalletAddress string
	RoundID       string
	USDMicro      int64
	Tokens        int64
	Timestamp     time.Time
}

// DailyAggregate is one day of purchase activity for a round.
type DailyAggregate struct {
	Day           time.Time
	RoundID       string
	PurchaseCount uint64
	USDMicro      int64
	Tokens        int64
}

// Sink writes engine events into ClickHouse.
type Sink struct {
	conn   *Conn
	logger *log.Logger
}

// NewSink creates a Sink over an open connection.
func NewSink(conn *Conn, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{conn: conn, logger: logger}
}

// Insert appends one event row.
func (s *Sink) Insert(ctx context.Context, row *PurchaseEventRow) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO purchase_events (
			event_kind, purchase_id, wallet_address, round_id,
			usd_micro, tokens, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		row.EventKind, row.PurchaseID, row.WalletAddress, row.RoundID,
		row.USDMicro, row.Tokens, row.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert purchase event: %w", err)
	}
	return nil
}

// InsertBulk appends multiple event rows in one batch.
func (s *Sink) InsertBulk(ctx context.Context, rows []*PurchaseEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO purchase_events (
			event_kind, purchase_id, wallet_address, round_id,
			usd_micro, tokens, ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, row := range rows {
		err = batch.Append(
			row.EventKind, row.PurchaseID, row.WalletAddress, row.RoundID,
			row.USDMicro, row.Tokens, row.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// DailyAggregates returns per-day purchase totals for a round, oldest
// first. Claims are excluded.
func (s *Sink) DailyAggregates(ctx context.Context, roundID string) ([]*DailyAggregate, error) {
	query := `
		SELECT toDate(ts) AS day, round_id,
		       count(*) AS purchase_count,
		       sum(usd_micro) AS usd_micro,
		       sum(tokens) AS tokens
		FROM purchase_events
		WHERE round_id = ? AND event_kind = ?
		GROUP BY day, round_id
		ORDER BY day ASC
	`

	rows, err := s.conn.Query(ctx, query, roundID, events.KindPurchaseAccepted)
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*DailyAggregate
	for rows.Next() {
		var a DailyAggregate
		if err := rows.Scan(&a.Day, &a.RoundID, &a.PurchaseCount, &a.USDMicro, &a.Tokens); err != nil {
			return nil, fmt.Errorf("scan daily aggregate row: %w", err)
		}
		aggs = append(aggs, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily aggregate rows: %w", err)
	}

	return aggs, nil
}

// Run consumes bus events until the channel closes or ctx is done.
// Insert failures are logged and skipped; analytics never blocks the
// purchase path.
func (s *Sink) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			row := &PurchaseEventRow{
				EventKind:     ev.Kind,
				PurchaseID:    ev.PurchaseID,
				WalletAddress: ev.WalletAddress,
				RoundID:       ev.RoundID,
				USDMicro:      int64(ev.USDAmount),
				Tokens:        int64(ev.Tokens),
				Timestamp:     ev.Timestamp,
			}
			if err := s.Insert(ctx, row); err != nil {
				s.logger.Printf("[analytics] insert failed: %v", err)
			}
		}
	}
}

// Schema is the purchase_events DDL, applied at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS purchase_events (
    event_kind     LowCardinality(String),
    purchase_id    String,
    wallet_address String,
    round_id       LowCardinality(String),
    usd_micro      Int64,
    tokens         Int64,
    ts             DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY (event_kind, purchase_id)
`

// EnsureSchema creates the purchase_events table if missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create purchase_events table: %w", err)
	}
	return nil
}
