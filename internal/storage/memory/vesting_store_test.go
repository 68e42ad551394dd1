package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

func testSchedule(purchaseID, wallet string, months int) []*domain.VestingUnlockEvent {
	start := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	events := make([]*domain.VestingUnlockEvent, months)
	for i := 0; i < months; i++ {
		events[i] = &domain.VestingUnlockEvent{
			ID:            purchaseID + "-" + string(rune('1'+i)),
			PurchaseID:    purchaseID,
			WalletAddress: wallet,
			Month:         i + 1,
			UnlockDate:    start.AddDate(0, i+1, 0),
			Amount:        43333,
		}
	}
	return events
}

func TestVestingStore_InsertAndGetByPurchase(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	if err := store.InsertSchedule(ctx, testSchedule("p1", "0xaaa", 6)); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}

	got, err := store.GetByPurchase(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByPurchase failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	for i, e := range got {
		if e.Month != i+1 {
			t.Errorf("event %d: Month = %d, want %d", i, e.Month, i+1)
		}
		if e.Claimed {
			t.Errorf("event %d: new event must start unclaimed", i)
		}
	}
}

func TestVestingStore_DuplicateSchedule(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	if err := store.InsertSchedule(ctx, testSchedule("p1", "0xaaa", 3)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := store.InsertSchedule(ctx, testSchedule("p1", "0xaaa", 3))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestVestingStore_GetByWalletOrdered(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	// Two purchases a month apart; events interleave by unlock date.
	first := testSchedule("p1", "0xaaa", 3)
	second := testSchedule("p2", "0xaaa", 3)
	for _, e := range second {
		e.UnlockDate = e.UnlockDate.AddDate(0, 1, 0)
	}
	if err := store.InsertSchedule(ctx, first); err != nil {
		t.Fatalf("insert p1 failed: %v", err)
	}
	if err := store.InsertSchedule(ctx, second); err != nil {
		t.Fatalf("insert p2 failed: %v", err)
	}

	got, err := store.GetByWallet(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetByWallet failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].UnlockDate.Before(got[i-1].UnlockDate) {
			t.Errorf("events not ordered by unlock date at index %d", i)
		}
	}
}

func TestVestingStore_MarkClaimed(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	events := testSchedule("p1", "0xaaa", 3)
	if err := store.InsertSchedule(ctx, events); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}

	if err := store.MarkClaimed(ctx, []string{events[0].ID, events[1].ID}); err != nil {
		t.Fatalf("MarkClaimed failed: %v", err)
	}

	got, _ := store.GetByPurchase(ctx, "p1")
	if !got[0].Claimed || !got[1].Claimed {
		t.Error("claimed flags not set")
	}
	if got[2].Claimed {
		t.Error("unclaimed event was marked")
	}

	// The store refuses a second marking.
	err := store.MarkClaimed(ctx, []string{events[0].ID})
	if !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Errorf("Expected ErrAlreadyClaimed on re-mark, got %v", err)
	}
}

func TestVestingStore_MarkClaimedRefusesMixedBatch(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	events := testSchedule("p1", "0xaaa", 3)
	if err := store.InsertSchedule(ctx, events); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}
	if err := store.MarkClaimed(ctx, []string{events[0].ID}); err != nil {
		t.Fatalf("MarkClaimed failed: %v", err)
	}

	// One claimed ID poisons the batch; the unclaimed one must not be
	// marked either.
	err := store.MarkClaimed(ctx, []string{events[0].ID, events[1].ID})
	if !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("Expected ErrAlreadyClaimed, got %v", err)
	}

	got, _ := store.GetByPurchase(ctx, "p1")
	if got[1].Claimed {
		t.Error("failed batch must not mark any event")
	}
}

func TestVestingStore_MarkClaimedUnknownEvent(t *testing.T) {
	store := NewVestingStore()

	err := store.MarkClaimed(context.Background(), []string{"missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestVestingStore_DeleteByWallet(t *testing.T) {
	store := NewVestingStore()
	ctx := context.Background()

	if err := store.InsertSchedule(ctx, testSchedule("p1", "0xaaa", 3)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.InsertSchedule(ctx, testSchedule("p2", "0xbbb", 3)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.DeleteByWallet(ctx, "0xaaa"); err != nil {
		t.Fatalf("DeleteByWallet failed: %v", err)
	}

	gone, _ := store.GetByWallet(ctx, "0xaaa")
	if len(gone) != 0 {
		t.Errorf("expected no events for 0xaaa, got %d", len(gone))
	}
	kept, _ := store.GetByWallet(ctx, "0xbbb")
	if len(kept) != 3 {
		t.Errorf("expected 3 events for 0xbbb, got %d", len(kept))
	}
}
