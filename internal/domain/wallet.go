package domain

import "time"

// WalletLimitRecord tracks cumulative spend for one wallet. Invariant:
// TotalSpentUSD == sum of Purchases[].USDAmount at all times, and never
// exceeds the effective wallet cap after an accepted purchase.
type WalletLimitRecord struct {
	WalletAddress string // unique key, normalized lowercase hex
	TotalSpentUSD USD
	PurchaseCount int
	Purchases     []PurchaseRecord // insertion order = chronological

	// CustomLimitUSD overrides the round-level wallet cap when > 0
	// (support-set, mirrors the contract's per-wallet override).
	CustomLimitUSD USD

	Blacklisted    bool
	LastPurchaseAt time.Time // zero if no purchases yet
}

// EffectiveCap returns the wallet's lifetime cap given the round default.
func (w *WalletLimitRecord) EffectiveCap(roundCap USD) USD {
	if w.CustomLimitUSD > 0 {
		return w.CustomLimitUSD
	}
	return roundCap
}

// LimitInfo is the per-wallet spend summary returned to callers.
type LimitInfo struct {
	WalletAddress  string
	TotalSpentUSD  USD
	PurchaseCount  int
	WalletLimitUSD USD
	RemainingLimit USD // max(0, WalletLimitUSD - TotalSpentUSD)
	IsAtLimit      bool
}
