// Package engine is the presale accounting engine: it validates
// prospective purchases, computes allocations, records them into the
// wallet ledger, and projects vesting schedules. It mirrors the
// settlement contract's semantics for pre-flight validation and display;
// the contract itself remains the settlement authority.
package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"presale-engine/internal/domain"
	"presale-engine/internal/events"
	"presale-engine/internal/idhash"
	"presale-engine/internal/pricing"
	"presale-engine/internal/rounds"
	"presale-engine/internal/storage"
	"presale-engine/internal/vesting"
)

// DefaultCooldown is the minimum gap between purchases from one wallet,
// matching the settlement contract's rate limit.
const DefaultCooldown = 5 * time.Minute

// Config holds processor settings.
type Config struct {
	AdminKey string        // credential for wallet resets
	Cooldown time.Duration // per-wallet purchase cooldown; DefaultCooldown if zero
}

// PurchaseReceipt is returned for an accepted purchase.
type PurchaseReceipt struct {
	PurchaseID      string
	WalletAddress   string
	RoundID         string
	USDAmount       domain.USD
	BaseTokens      domain.Tokens
	BonusPercent    int
	BonusTokens     domain.Tokens
	TotalTokens     domain.Tokens
	ImmediateTokens domain.Tokens
	VestedTokens    domain.Tokens
	Timestamp       time.Time
	Schedule        []*domain.VestingUnlockEvent
}

// Processor is the top-level purchase entry point. The validate-then-
// commit sequence runs under a per-wallet lock; per-round atomicity is
// delegated to the round counter's compare-and-increment.
type Processor struct {
	catalog    *rounds.Catalog
	ledger     storage.WalletLedger
	vestStore  storage.VestingStore
	counter    storage.RoundCounter
	compliance storage.ComplianceRegistry
	validator  *Validator
	calc       *pricing.Calculator
	claims     *vesting.Engine
	bus        *events.Bus
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	walletMu map[string]*sync.Mutex
}

// NewProcessor wires the purchase processor. bus may be nil when no
// subscriber cares about domain events.
func NewProcessor(
	catalog *rounds.Catalog,
	ledger storage.WalletLedger,
	vestStore storage.VestingStore,
	counter storage.RoundCounter,
	compliance storage.ComplianceRegistry,
	bus *events.Bus,
	cfg Config,
) *Processor {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	calc := pricing.NewCalculator()
	return &Processor{
		catalog:    catalog,
		ledger:     ledger,
		vestStore:  vestStore,
		counter:    counter,
		compliance: compliance,
		validator:  NewValidator(ledger, compliance, counter, calc, cfg.Cooldown),
		calc:       calc,
		claims:     vesting.NewEngine(vestStore),
		bus:        bus,
		cfg:        cfg,
		now:        time.Now,
		walletMu:   make(map[string]*sync.Mutex),
	}
}

// lockWallet returns the mutex serializing one wallet's purchases.
func (p *Processor) lockWallet(wallet string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	mu, ok := p.walletMu[wallet]
	if !ok {
		mu = &sync.Mutex{}
		p.walletMu[wallet] = mu
	}
	return mu
}

// NormalizeAddress validates and lowercases a wallet address.
func NormalizeAddress(address string) (string, *ValidationError) {
	if !common.IsHexAddress(address) {
		return "", &ValidationError{
			Kind:   KindInvalidAddress,
			Detail: fmt.Sprintf("invalid wallet address %q", address),
		}
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// validCurrency reports whether the payment currency is accepted.
func validCurrency(currency string) bool {
	switch currency {
	case domain.CurrencyETH, domain.CurrencyBNB, domain.CurrencySOL,
		domain.CurrencyUSDT, domain.CurrencyUSDC:
		return true
	}
	return false
}

// ProcessPurchase validates, calculates, records, and schedules one
// purchase. On rejection it returns a *ValidationError and guarantees
// zero ledger mutation.
func (p *Processor) ProcessPurchase(ctx context.Context, walletAddress string, usdAmount domain.USD, currency string) (*PurchaseReceipt, error) {
	wallet, verr := NormalizeAddress(walletAddress)
	if verr != nil {
		return nil, verr
	}
	if !validCurrency(currency) {
		return nil, &ValidationError{
			Kind:   KindInvalidCurrency,
			Detail: fmt.Sprintf("unsupported payment currency %q", currency),
		}
	}
	if usdAmount <= 0 {
		return nil, &ValidationError{
			Kind:   KindBelowMinimum,
			Detail: "purchase amount must be positive",
		}
	}

	round, err := p.catalog.Active()
	if err != nil {
		return nil, fmt.Errorf("resolve active round: %w", err)
	}

	mu := p.lockWallet(wallet)
	mu.Lock()
	defer mu.Unlock()

	now := p.now()

	breakdown, verr, err := p.validator.Validate(ctx, wallet, usdAmount, round, now)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, verr
	}

	// Commit: reserve allocation, persist schedule, then the ledger
	// append as the commit point. Unwind in reverse on failure.
	if err := p.counter.Reserve(ctx, round.RoundID, breakdown.TotalTokens, round.RoundAllocationTokens); err != nil {
		if errors.Is(err, storage.ErrAllocationExceeded) {
			return nil, &ValidationError{
				Kind:   KindExceedsRoundAllocation,
				Detail: "round allocation exhausted",
			}
		}
		return nil, fmt.Errorf("reserve allocation: %w", err)
	}

	purchaseID := idhash.ComputePurchaseID(wallet, round.RoundID, now.UnixMilli(), int64(usdAmount))
	schedule := vesting.GenerateSchedule(purchaseID, wallet, breakdown.VestedTokens, round.VestingDurationMonths, now)

	if err := p.vestStore.InsertSchedule(ctx, schedule); err != nil {
		p.release(ctx, round.RoundID, breakdown.TotalTokens)
		return nil, fmt.Errorf("persist vesting schedule: %w", err)
	}

	rec := &domain.PurchaseRecord{
		ID:              purchaseID,
		WalletAddress:   wallet,
		USDAmount:       usdAmount,
		Currency:        currency,
		Timestamp:       now,
		RoundID:         round.RoundID,
		BaseTokens:      breakdown.BaseTokens,
		BonusPercent:    breakdown.BonusPercent,
		BonusTokens:     breakdown.BonusTokens,
		TotalTokens:     breakdown.TotalTokens,
		ImmediateTokens: breakdown.ImmediateTokens,
		VestedTokens:    breakdown.VestedTokens,
	}

	walletCap := p.effectiveCap(ctx, wallet, round)
	if err := p.ledger.RecordPurchase(ctx, rec, walletCap); err != nil {
		if derr := p.vestStore.DeleteByPurchase(ctx, purchaseID); derr != nil {
			err = fmt.Errorf("%w (schedule unwind also failed: %v)", err, derr)
		}
		p.release(ctx, round.RoundID, breakdown.TotalTokens)
		if errors.Is(err, storage.ErrLimitExceeded) {
			return nil, &ValidationError{
				Kind:   KindExceedsWalletLimit,
				Detail: "wallet limit exceeded",
			}
		}
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	if p.bus != nil {
		p.bus.Publish(events.Event{
			Kind:          events.KindPurchaseAccepted,
			WalletAddress: wallet,
			RoundID:       round.RoundID,
			PurchaseID:    purchaseID,
			USDAmount:     usdAmount,
			Tokens:        breakdown.TotalTokens,
			Timestamp:     now,
		})
	}

	return &PurchaseReceipt{
		PurchaseID:      purchaseID,
		WalletAddress:   wallet,
		RoundID:         round.RoundID,
		USDAmount:       usdAmount,
		BaseTokens:      breakdown.BaseTokens,
		BonusPercent:    breakdown.BonusPercent,
		BonusTokens:     breakdown.BonusTokens,
		TotalTokens:     breakdown.TotalTokens,
		ImmediateTokens: breakdown.ImmediateTokens,
		VestedTokens:    breakdown.VestedTokens,
		Timestamp:       now,
		Schedule:        schedule,
	}, nil
}

// effectiveCap resolves the wallet's lifetime cap for the round.
func (p *Processor) effectiveCap(ctx context.Context, wallet string, round *domain.RoundConfig) domain.USD {
	rec, err := p.ledger.Get(ctx, wallet)
	if err != nil {
		return round.WalletMaxUSD
	}
	return rec.EffectiveCap(round.WalletMaxUSD)
}

// release undoes an allocation reservation, logging nowhere: Release
// only fails on invalid input, which cannot happen on this path.
func (p *Processor) release(ctx context.Context, roundID string, amount domain.Tokens) {
	_ = p.counter.Release(ctx, roundID, amount)
}

// Claimable returns the wallet's currently claimable vested tokens.
func (p *Processor) Claimable(ctx context.Context, walletAddress string, now time.Time) (domain.ClaimableSnapshot, error) {
	wallet, verr := NormalizeAddress(walletAddress)
	if verr != nil {
		return domain.ClaimableSnapshot{}, verr
	}
	return p.claims.Claimable(ctx, wallet, now)
}

// Claim marks the wallet's currently claimable events claimed and
// returns the pre-mutation snapshot. vesting.ErrNothingToClaim signals
// an informational no-op.
func (p *Processor) Claim(ctx context.Context, walletAddress string, now time.Time) (domain.ClaimableSnapshot, error) {
	wallet, verr := NormalizeAddress(walletAddress)
	if verr != nil {
		return domain.ClaimableSnapshot{}, verr
	}

	// Same per-wallet serialization as the purchase path: two claims
	// must not snapshot the same unclaimed set.
	mu := p.lockWallet(wallet)
	mu.Lock()
	defer mu.Unlock()

	snapshot, err := p.claims.Claim(ctx, wallet, now)
	if err != nil {
		return snapshot, err
	}

	if p.bus != nil {
		p.bus.Publish(events.Event{
			Kind:          events.KindTokensClaimed,
			WalletAddress: wallet,
			Tokens:        snapshot.Total,
			Timestamp:     now,
		})
	}
	return snapshot, nil
}

// LimitInfo returns the wallet's spend summary against the active
// round's cap.
func (p *Processor) LimitInfo(ctx context.Context, walletAddress string) (*domain.LimitInfo, error) {
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
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load wallet record: %w", err)
		}
		rec = &domain.WalletLimitRecord{WalletAddress: wallet}
	}

	walletCap := rec.EffectiveCap(round.WalletMaxUSD)
	remaining := walletCap - rec.TotalSpentUSD
	if remaining < 0 {
		remaining = 0
	}

	return &domain.LimitInfo{
		WalletAddress:  wallet,
		TotalSpentUSD:  rec.TotalSpentUSD,
		PurchaseCount:  rec.PurchaseCount,
		WalletLimitUSD: walletCap,
		RemainingLimit: remaining,
		IsAtLimit:      remaining == 0,
	}, nil
}

// ResetWalletLimit clears one wallet's spend totals, purchase history,
// and vesting schedule. Privileged escape hatch for support.
func (p *Processor) ResetWalletLimit(ctx context.Context, walletAddress, adminKey string) error {
	wallet, verr := NormalizeAddress(walletAddress)
	if verr != nil {
		return verr
	}

	if subtle.ConstantTimeCompare([]byte(adminKey), []byte(p.cfg.AdminKey)) != 1 {
		return ErrUnauthorized
	}

	mu := p.lockWallet(wallet)
	mu.Lock()
	defer mu.Unlock()

	if err := p.ledger.Reset(ctx, wallet); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	if err := p.vestStore.DeleteByWallet(ctx, wallet); err != nil {
		return fmt.Errorf("reset vesting schedule: %w", err)
	}
	return nil
}

// Stats aggregates purchase totals across all wallets.
func (p *Processor) Stats(ctx context.Context) (*domain.PurchaseStats, error) {
	round, err := p.catalog.Active()
	if err != nil {
		return nil, fmt.Errorf("resolve active round: %w", err)
	}

	wallets, err := p.ledger.Wallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}

	stats := &domain.PurchaseStats{}
	for _, w := range wallets {
		if w.PurchaseCount == 0 {
			continue
		}
		stats.TotalParticipants++
		stats.TotalPurchases += w.PurchaseCount
		stats.TotalRaised += w.TotalSpentUSD
		if w.TotalSpentUSD >= w.EffectiveCap(round.WalletMaxUSD) {
			stats.WalletsAtLimit++
		}
	}
	if stats.TotalPurchases > 0 {
		stats.AveragePurchase = stats.TotalRaised / domain.USD(stats.TotalPurchases)
	}
	return stats, nil
}
