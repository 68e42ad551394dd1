package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

func testPurchase(id, wallet string, usd domain.USD) *domain.PurchaseRecord {
	return &domain.PurchaseRecord{
		ID:            id,
		WalletAddress: wallet,
		USDAmount:     usd,
		Currency:      domain.CurrencyETH,
		Timestamp:     time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC),
		RoundID:       "private-1",
		TotalTokens:   1000,
	}
}

func TestWalletLedger_RecordAndGet(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(300)), cap)
	if err != nil {
		t.Fatalf("RecordPurchase failed: %v", err)
	}

	got, err := ledger.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.TotalSpentUSD != domain.Dollars(300) {
		t.Errorf("TotalSpentUSD = %v, want %v", got.TotalSpentUSD, domain.Dollars(300))
	}
	if got.PurchaseCount != 1 {
		t.Errorf("PurchaseCount = %d, want 1", got.PurchaseCount)
	}
	if len(got.Purchases) != 1 {
		t.Errorf("len(Purchases) = %d, want 1", len(got.Purchases))
	}
}

func TestWalletLedger_CapEnforced(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	if err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(300)), cap); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	if err := ledger.RecordPurchase(ctx, testPurchase("p2", "0xaaa", domain.Dollars(200)), cap); err != nil {
		t.Fatalf("second purchase failed: %v", err)
	}

	// Wallet is now exactly at the $500 cap; $1 more must fail.
	err := ledger.RecordPurchase(ctx, testPurchase("p3", "0xaaa", domain.Dollars(1)), cap)
	if !errors.Is(err, storage.ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded, got %v", err)
	}

	got, _ := ledger.Get(ctx, "0xaaa")
	if got.TotalSpentUSD != domain.Dollars(500) {
		t.Errorf("TotalSpentUSD = %v, want %v", got.TotalSpentUSD, domain.Dollars(500))
	}
	if got.PurchaseCount != 2 {
		t.Errorf("rejected purchase must not mutate state: PurchaseCount = %d, want 2", got.PurchaseCount)
	}
}

func TestWalletLedger_DuplicatePurchaseID(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	if err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(100)), cap); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(100)), cap)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestWalletLedger_NotFound(t *testing.T) {
	ledger := NewWalletLedger()

	_, err := ledger.Get(context.Background(), "0xnobody")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWalletLedger_Reset(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	if err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(500)), cap); err != nil {
		t.Fatalf("RecordPurchase failed: %v", err)
	}
	if err := ledger.SetBlacklisted(ctx, "0xaaa", true); err != nil {
		t.Fatalf("SetBlacklisted failed: %v", err)
	}

	if err := ledger.Reset(ctx, "0xaaa"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	got, err := ledger.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("Get after reset failed: %v", err)
	}
	if got.TotalSpentUSD != 0 || got.PurchaseCount != 0 || len(got.Purchases) != 0 {
		t.Errorf("Reset did not clear totals: %+v", got)
	}
	if !got.Blacklisted {
		t.Error("Reset must not clear blacklist flag")
	}

	// Purchase IDs freed by reset can be reused.
	if err := ledger.RecordPurchase(ctx, testPurchase("p1", "0xaaa", domain.Dollars(100)), cap); err != nil {
		t.Errorf("re-insert after reset failed: %v", err)
	}
}

func TestWalletLedger_CustomLimit(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()

	if err := ledger.SetCustomLimit(ctx, "0xvip", domain.Dollars(2000)); err != nil {
		t.Fatalf("SetCustomLimit failed: %v", err)
	}

	got, err := ledger.Get(ctx, "0xvip")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EffectiveCap(domain.Dollars(500)) != domain.Dollars(2000) {
		t.Errorf("EffectiveCap = %v, want %v", got.EffectiveCap(domain.Dollars(500)), domain.Dollars(2000))
	}
}

func TestWalletLedger_MonotonicTotals(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	var prev domain.USD
	for i := 0; i < 5; i++ {
		rec := testPurchase(string(rune('a'+i)), "0xaaa", domain.Dollars(100))
		if err := ledger.RecordPurchase(ctx, rec, cap); err != nil {
			t.Fatalf("purchase %d failed: %v", i, err)
		}

		got, _ := ledger.Get(ctx, "0xaaa")
		if got.TotalSpentUSD <= prev {
			t.Errorf("TotalSpentUSD not increasing: %v after %v", got.TotalSpentUSD, prev)
		}

		var sum domain.USD
		for _, p := range got.Purchases {
			sum += p.USDAmount
		}
		if sum != got.TotalSpentUSD {
			t.Errorf("TotalSpentUSD %v != sum of purchases %v", got.TotalSpentUSD, sum)
		}
		prev = got.TotalSpentUSD
	}
}

func TestWalletLedger_ConcurrentPurchases(t *testing.T) {
	ledger := NewWalletLedger()
	ctx := context.Background()
	cap := domain.Dollars(500)

	// 10 concurrent $100 purchases against a $500 cap: exactly 5 must win.
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testPurchase(string(rune('a'+i)), "0xaaa", domain.Dollars(100))
			errs[i] = ledger.RecordPurchase(ctx, rec, cap)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, storage.ErrLimitExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 5 {
		t.Errorf("accepted = %d, want 5", accepted)
	}

	got, _ := ledger.Get(ctx, "0xaaa")
	if got.TotalSpentUSD != domain.Dollars(500) {
		t.Errorf("TotalSpentUSD = %v, want %v", got.TotalSpentUSD, domain.Dollars(500))
	}
}
