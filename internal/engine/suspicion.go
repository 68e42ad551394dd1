package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// SuspicionReport flags wallets whose purchase pattern warrants manual
// review. Advisory only: it never blocks a purchase.
type SuspicionReport struct {
	WalletAddress string
	Flags         []string
}

// Suspicious reports whether the wallet's ledger record matches any
// review heuristic. Wallets with no record are never suspicious.
func (p *Processor) Suspicious(ctx context.Context, walletAddress string) (*SuspicionReport, error) {
	wallet, verr := NormalizeAddress(walletAddress)
	if verr != nil {
		return nil, verr
	}

	round, err := p.catalog.Active()
	if err != nil {
		return nil, fmt.Errorf("resolve active round: %w", err)
	}

	rec, err := p.ledger.Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &SuspicionReport{WalletAddress: wallet}, nil
		}
		return nil, fmt.Errorf("load wallet record: %w", err)
	}

	report := &SuspicionReport{WalletAddress: wallet}

	if rec.Blacklisted {
		report.Flags = append(report.Flags, "Wallet is blacklisted")
	}
	if rec.TotalSpentUSD == rec.EffectiveCap(round.WalletMaxUSD) {
		report.Flags = append(report.Flags, "Wallet at exact maximum limit")
	}
	if burst := purchaseBurst(rec.Purchases, time.Hour); burst >= 5 {
		report.Flags = append(report.Flags, fmt.Sprintf("High purchase frequency: %d purchases within one hour", burst))
	}

	return report, nil
}

// purchaseBurst returns the largest number of purchases falling inside
// any sliding window of the given width. Purchases arrive timestamp
// ascending from the ledger.
func purchaseBurst(purchases []domain.PurchaseRecord, window time.Duration) int {
	best := 0
	for i := range purchases {
		n := 1
		for j := i + 1; j < len(purchases); j++ {
			if purchases[j].Timestamp.Sub(purchases[i].Timestamp) > window {
				break
			}
			n++
		}
		if n > best {
			best = n
		}
	}
	return best
}
