package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/pricing"
	"presale-engine/internal/storage"
)

// Validator checks a prospective purchase against round, wallet, and
// time limits before any funds move. Checks run in a fixed order and
// the first failure wins.
type Validator struct {
	ledger     storage.WalletLedger
	compliance storage.ComplianceRegistry
	counter    storage.RoundCounter
	calc       *pricing.Calculator
	cooldown   time.Duration
}

// NewValidator creates a purchase validator.
func NewValidator(
	ledger storage.WalletLedger,
	compliance storage.ComplianceRegistry,
	counter storage.RoundCounter,
	calc *pricing.Calculator,
	cooldown time.Duration,
) *Validator {
	return &Validator{
		ledger:     ledger,
		compliance: compliance,
		counter:    counter,
		calc:       calc,
		cooldown:   cooldown,
	}
}

// Validate runs the ordered checks for a prospective purchase. On
// success it returns the token breakdown computed for the allocation
// check so the processor does not recompute it. A non-nil
// *ValidationError is a rejection; a non-nil error is an internal
// storage failure.
func (v *Validator) Validate(ctx context.Context, wallet string, usdAmount domain.USD, round *domain.RoundConfig, now time.Time) (*domain.TokenBreakdown, *ValidationError, error) {
	rec, err := v.ledger.Get(ctx, wallet)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("load wallet record: %w", err)
		}
		rec = &domain.WalletLimitRecord{WalletAddress: wallet}
	}

	if rec.Blacklisted {
		return nil, &ValidationError{
			Kind:   KindBlacklisted,
			Detail: "wallet address is blacklisted",
		}, nil
	}

	if usdAmount < round.PerTransactionMinUSD {
		return nil, &ValidationError{
			Kind:   KindBelowMinimum,
			Detail: fmt.Sprintf("minimum purchase is %s", round.PerTransactionMinUSD),
		}, nil
	}

	if usdAmount > round.PerTransactionMaxUSD {
		return nil, &ValidationError{
			Kind:   KindAboveMaximum,
			Detail: fmt.Sprintf("maximum purchase is %s", round.PerTransactionMaxUSD),
		}, nil
	}

	walletCap := rec.EffectiveCap(round.WalletMaxUSD)
	if rec.TotalSpentUSD+usdAmount > walletCap {
		remaining := walletCap - rec.TotalSpentUSD
		if remaining < 0 {
			remaining = 0
		}
		return nil, &ValidationError{
			Kind:   KindExceedsWalletLimit,
			Detail: fmt.Sprintf("exceeds wallet limit of %s, %s remaining", walletCap, remaining),
		}, nil
	}

	if round.RequiresWhitelist {
		whitelisted, err := v.compliance.IsWhitelisted(ctx, wallet)
		if err != nil {
			return nil, nil, fmt.Errorf("check whitelist: %w", err)
		}
		if !whitelisted {
			return nil, &ValidationError{
				Kind:   KindNotWhitelisted,
				Detail: "wallet is not whitelisted for this round",
			}, nil
		}
	}

	if round.RequiresKYCAboveUSD > 0 && usdAmount > round.RequiresKYCAboveUSD {
		verified, err := v.compliance.IsKYCVerified(ctx, wallet)
		if err != nil {
			return nil, nil, fmt.Errorf("check kyc: %w", err)
		}
		if !verified {
			return nil, &ValidationError{
				Kind:   KindKYCRequired,
				Detail: fmt.Sprintf("KYC verification required for purchases above %s", round.RequiresKYCAboveUSD),
			}, nil
		}
	}

	breakdown := v.calc.Calculate(usdAmount, round)
	sold, err := v.counter.Sold(ctx, round.RoundID)
	if err != nil {
		return nil, nil, fmt.Errorf("load round counter: %w", err)
	}
	if sold+breakdown.TotalTokens > round.RoundAllocationTokens {
		return nil, &ValidationError{
			Kind:   KindExceedsRoundAllocation,
			Detail: fmt.Sprintf("round allocation exhausted: %d tokens left", round.RoundAllocationTokens-sold),
		}, nil
	}

	if !rec.LastPurchaseAt.IsZero() && now.Sub(rec.LastPurchaseAt) < v.cooldown {
		wait := v.cooldown - now.Sub(rec.LastPurchaseAt)
		return nil, &ValidationError{
			Kind:   KindRateLimitExceeded,
			Detail: fmt.Sprintf("wait %s before the next purchase", wait.Round(time.Second)),
		}, nil
	}

	return &breakdown, nil, nil
}
