package domain

import "time"

// BonusTier grants an extra token percentage at a USD purchase threshold.
// Tiers are kept sorted descending by MinUSD; the first tier whose MinUSD
// is <= the purchase amount wins.
type BonusTier struct {
	MinUSD       USD // threshold (inclusive)
	BonusPercent int // 0-100
}

// RoundConfig describes one time-boxed phase of the sale. Immutable once
// loaded; the mutable sold-token counter lives in storage.RoundCounter.
type RoundConfig struct {
	RoundID          string
	PricePerTokenUSD USD // micro-dollars per whole token

	BonusTiers []BonusTier // sorted descending by MinUSD

	ImmediateReleasePercent int // 0-100, unlocked at purchase
	VestingDurationMonths   int // monthly unlocks after purchase

	PerTransactionMinUSD USD
	PerTransactionMaxUSD USD
	WalletMaxUSD         USD // lifetime cap per wallet across all purchases

	RequiresWhitelist   bool
	RequiresKYCAboveUSD USD // KYC needed for single purchases above this

	RoundAllocationTokens Tokens // hard cap on tokens sold in this round

	StartAt time.Time
	EndAt   time.Time
}

// BonusPercentFor returns the bonus percentage for a purchase amount.
// Zero if no tier threshold is met.
func (r *RoundConfig) BonusPercentFor(amount USD) int {
	for _, tier := range r.BonusTiers {
		if amount >= tier.MinUSD {
			return tier.BonusPercent
		}
	}
	return 0
}
