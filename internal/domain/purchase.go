package domain

import "time"

// Payment currency codes accepted by the sale. The engine records the
// currency for bookkeeping; conversion to USD happens upstream.
const (
	CurrencyETH  = "ETH"
	CurrencyBNB  = "BNB"
	CurrencySOL  = "SOL"
	CurrencyUSDT = "USDT"
	CurrencyUSDC = "USDC"
)

// TokenBreakdown is the output of the bonus & token calculator.
// ImmediateTokens + VestedTokens == TotalTokens always holds exactly.
type TokenBreakdown struct {
	USDAmount       USD
	BaseTokens      Tokens
	BonusPercent    int
	BonusTokens     Tokens
	TotalTokens     Tokens
	ImmediateTokens Tokens
	VestedTokens    Tokens
}

// PurchaseRecord is one accepted purchase. Append-only: created once at
// acceptance, never mutated afterward.
type PurchaseRecord struct {
	ID            string // deterministic hash, see idhash
	WalletAddress string // normalized (lowercase hex)
	USDAmount     USD
	Currency      string
	Timestamp     time.Time
	RoundID       string

	BaseTokens      Tokens
	BonusPercent    int
	BonusTokens     Tokens
	TotalTokens     Tokens
	ImmediateTokens Tokens
	VestedTokens    Tokens
}

// PurchaseStats aggregates across all wallets for the stats endpoint.
type PurchaseStats struct {
	TotalParticipants int // wallets with at least one purchase
	TotalPurchases    int
	TotalRaised       USD
	AveragePurchase   USD // TotalRaised / TotalPurchases, floor
	WalletsAtLimit    int
}
