package vesting

import (
	"context"
	"errors"
	"testing"
	"time"

	"presale-engine/internal/storage/memory"
)

func TestEngine_ClaimOnceThenNothing(t *testing.T) {
	store := memory.NewVestingStore()
	engine := NewEngine(store)
	ctx := context.Background()

	purchaseDate := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	schedule := GenerateSchedule("p1", "0xaaa", 260000, 6, purchaseDate)
	if err := store.InsertSchedule(ctx, schedule); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}

	now := time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC)

	snapshot, err := engine.Claim(ctx, "0xaaa", now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if snapshot.Total != 86666 {
		t.Errorf("Total = %d, want 86666", snapshot.Total)
	}
	if len(snapshot.Claimable) != 2 {
		t.Errorf("claimable count = %d, want 2", len(snapshot.Claimable))
	}

	// Second claim with no time passing: idempotent no-op.
	_, err = engine.Claim(ctx, "0xaaa", now)
	if !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("Expected ErrNothingToClaim, got %v", err)
	}

	// Claimed flags persisted.
	stored, _ := store.GetByWallet(ctx, "0xaaa")
	claimed := 0
	for _, e := range stored {
		if e.Claimed {
			claimed++
		}
	}
	if claimed != 2 {
		t.Errorf("claimed events = %d, want 2", claimed)
	}
}

func TestEngine_ClaimAgainAfterNextUnlock(t *testing.T) {
	store := memory.NewVestingStore()
	engine := NewEngine(store)
	ctx := context.Background()

	purchaseDate := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	schedule := GenerateSchedule("p1", "0xaaa", 260000, 6, purchaseDate)
	if err := store.InsertSchedule(ctx, schedule); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}

	december := time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC)
	if _, err := engine.Claim(ctx, "0xaaa", december); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// A month later one more event has unlocked.
	january := time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC)
	snapshot, err := engine.Claim(ctx, "0xaaa", january)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if snapshot.Total != 43333 {
		t.Errorf("Total = %d, want 43333", snapshot.Total)
	}
	if len(snapshot.Claimable) != 1 || snapshot.Claimable[0].Month != 3 {
		t.Errorf("unexpected claimable set: %+v", snapshot.Claimable)
	}
}

func TestEngine_ClaimableDoesNotMutate(t *testing.T) {
	store := memory.NewVestingStore()
	engine := NewEngine(store)
	ctx := context.Background()

	purchaseDate := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	schedule := GenerateSchedule("p1", "0xaaa", 260000, 6, purchaseDate)
	if err := store.InsertSchedule(ctx, schedule); err != nil {
		t.Fatalf("InsertSchedule failed: %v", err)
	}

	now := time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		snapshot, err := engine.Claimable(ctx, "0xaaa", now)
		if err != nil {
			t.Fatalf("Claimable failed: %v", err)
		}
		if snapshot.Total != 86666 {
			t.Errorf("call %d: Total = %d, want 86666 (Claimable must not mutate)", i, snapshot.Total)
		}
	}
}

func TestEngine_ClaimUnknownWallet(t *testing.T) {
	engine := NewEngine(memory.NewVestingStore())

	_, err := engine.Claim(context.Background(), "0xnobody", time.Now())
	if !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("Expected ErrNothingToClaim, got %v", err)
	}
}
