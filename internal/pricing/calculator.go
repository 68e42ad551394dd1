// Package pricing implements the bonus & token calculator: a pure
// function from (usdAmount, round config) to a token breakdown.
package pricing

import "presale-engine/internal/domain"

// Calculator computes token allocations for purchases.
type Calculator struct{}

// NewCalculator creates a new calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate produces the token breakdown for a purchase amount.
// All divisions floor toward zero so the pool is never over-issued.
// VestedTokens is derived by subtraction, which guarantees
// ImmediateTokens + VestedTokens == TotalTokens exactly.
//
// Assumes a pre-validated positive usdAmount; callers run the purchase
// validator first.
func (c *Calculator) Calculate(usdAmount domain.USD, round *domain.RoundConfig) domain.TokenBreakdown {
	baseTokens := domain.Tokens(int64(usdAmount) / int64(round.PricePerTokenUSD))

	bonusPercent := round.BonusPercentFor(usdAmount)
	bonusTokens := domain.Tokens(int64(baseTokens) * int64(bonusPercent) / 100)

	totalTokens := baseTokens + bonusTokens
	immediateTokens := domain.Tokens(int64(totalTokens) * int64(round.ImmediateReleasePercent) / 100)
	vestedTokens := totalTokens - immediateTokens

	return domain.TokenBreakdown{
		USDAmount:       usdAmount,
		BaseTokens:      baseTokens,
		BonusPercent:    bonusPercent,
		BonusTokens:     bonusTokens,
		TotalTokens:     totalTokens,
		ImmediateTokens: immediateTokens,
		VestedTokens:    vestedTokens,
	}
}
