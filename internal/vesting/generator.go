// Package vesting generates monthly unlock schedules and resolves
// claims against them.
package vesting

import (
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/idhash"
)

// GenerateSchedule produces the full unlock schedule for a purchase's
// vested portion: exactly months events, one calendar month apart
// starting one month after the purchase date.
//
// Each event carries floor(vestedTokens / months). The floor remainder
// (at most months-1 base units) is deliberately NOT assigned to the last
// event: the settlement contract loses the same remainder, and the
// off-chain totals must agree with it.
func GenerateSchedule(purchaseID, wallet string, vestedTokens domain.Tokens, months int, purchaseDate time.Time) []*domain.VestingUnlockEvent {
	perMonth := domain.Tokens(int64(vestedTokens) / int64(months))

	events := make([]*domain.VestingUnlockEvent, months)
	for i := 1; i <= months; i++ {
		events[i-1] = &domain.VestingUnlockEvent{
			ID:            idhash.ComputeUnlockEventID(purchaseID, i),
			PurchaseID:    purchaseID,
			WalletAddress: wallet,
			Month:         i,
			UnlockDate:    purchaseDate.AddDate(0, i, 0),
			Amount:        perMonth,
			Claimed:       false,
		}
	}
	return events
}

// Claimable returns the events unlockable at now that have not been
// claimed, ordered as given, with their token total. Pure snapshot; the
// claimed flags are not touched.
func Claimable(schedule []*domain.VestingUnlockEvent, now time.Time) domain.ClaimableSnapshot {
	var snapshot domain.ClaimableSnapshot
	for _, e := range schedule {
		if !e.Claimed && !e.UnlockDate.After(now) {
			eventCopy := *e
			snapshot.Claimable = append(snapshot.Claimable, eventCopy)
			snapshot.Total += e.Amount
		}
	}
	return snapshot
}
