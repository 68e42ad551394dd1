package domain

import "time"

// VestingUnlockEvent is one monthly unlock in a purchase's vesting
// schedule. The full set is created when the purchase is accepted and
// shares the purchase's lifecycle. Claimed flips false->true exactly once.
type VestingUnlockEvent struct {
	ID            string // deterministic hash, see idhash
	PurchaseID    string
	WalletAddress string
	Month         int // 1-based index into the schedule
	UnlockDate    time.Time
	Amount        Tokens
	Claimed       bool
}

// ClaimableSnapshot is the claimable set at a point in time, captured
// before any claim mutation.
type ClaimableSnapshot struct {
	Claimable []VestingUnlockEvent // ordered by month
	Total     Tokens
}
