// Package rounds loads and serves the sale round catalog. Round terms
// are static data supplied as a YAML file; the engine never computes
// them.
package rounds

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"presale-engine/internal/domain"
	"presale-engine/internal/storage"
)

// ErrNoActiveRound is returned when no admin pointer is set and no round
// window contains the current time.
var ErrNoActiveRound = errors.New("no active round")

// rawTier is the YAML shape of one bonus tier.
type rawTier struct {
	MinUSD       string `yaml:"min_usd"`
	BonusPercent int    `yaml:"bonus_percent"`
}

// rawRound is the YAML shape of one round.
type rawRound struct {
	ID                      string    `yaml:"id"`
	PricePerTokenUSD        string    `yaml:"price_per_token_usd"`
	BonusTiers              []rawTier `yaml:"bonus_tiers"`
	ImmediateReleasePercent int       `yaml:"immediate_release_percent"`
	VestingDurationMonths   int       `yaml:"vesting_duration_months"`
	PerTransactionMinUSD    string    `yaml:"per_transaction_min_usd"`
	PerTransactionMaxUSD    string    `yaml:"per_transaction_max_usd"`
	WalletMaxUSD            string    `yaml:"wallet_max_usd"`
	RequiresWhitelist       bool      `yaml:"requires_whitelist"`
	RequiresKYCAboveUSD     string    `yaml:"requires_kyc_above_usd"`
	RoundAllocationTokens   int64     `yaml:"round_allocation_tokens"`
	StartAt                 time.Time `yaml:"start_at"`
	EndAt                   time.Time `yaml:"end_at"`
}

// rawCatalog is the YAML shape of the catalog file.
type rawCatalog struct {
	ActiveRound string     `yaml:"active_round"`
	Rounds      []rawRound `yaml:"rounds"`
}

// Catalog is a read-only lookup of round configurations plus an
// admin-settable active-round pointer.
type Catalog struct {
	mu     sync.RWMutex
	rounds map[string]*domain.RoundConfig
	order  []string // file order, for listing
	active string   // admin pointer; empty falls back to time windows
	now    func() time.Time
}

// Load reads and validates a round catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read round catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse round catalog: %w", err)
	}
	if len(raw.Rounds) == 0 {
		return nil, fmt.Errorf("round catalog has no rounds")
	}

	c := &Catalog{
		rounds: make(map[string]*domain.RoundConfig, len(raw.Rounds)),
		active: raw.ActiveRound,
		now:    time.Now,
	}

	for _, rr := range raw.Rounds {
		round, err := buildRound(rr)
		if err != nil {
			return nil, fmt.Errorf("round %q: %w", rr.ID, err)
		}
		if _, dup := c.rounds[round.RoundID]; dup {
			return nil, fmt.Errorf("round %q: duplicate id", round.RoundID)
		}
		c.rounds[round.RoundID] = round
		c.order = append(c.order, round.RoundID)
	}

	if c.active != "" {
		if _, ok := c.rounds[c.active]; !ok {
			return nil, fmt.Errorf("active_round %q not in catalog", c.active)
		}
	}

	return c, nil
}

// buildRound converts and validates one raw round.
func buildRound(rr rawRound) (*domain.RoundConfig, error) {
	if rr.ID == "" {
		return nil, fmt.Errorf("missing id")
	}

	price, err := domain.ParseUSD(rr.PricePerTokenUSD)
	if err != nil {
		return nil, fmt.Errorf("price_per_token_usd: %w", err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("price_per_token_usd must be positive")
	}

	minUSD, err := domain.ParseUSD(rr.PerTransactionMinUSD)
	if err != nil {
		return nil, fmt.Errorf("per_transaction_min_usd: %w", err)
	}
	maxUSD, err := domain.ParseUSD(rr.PerTransactionMaxUSD)
	if err != nil {
		return nil, fmt.Errorf("per_transaction_max_usd: %w", err)
	}
	if minUSD <= 0 || maxUSD < minUSD {
		return nil, fmt.Errorf("per-transaction bounds invalid: min %s max %s", minUSD, maxUSD)
	}

	walletMax, err := domain.ParseUSD(rr.WalletMaxUSD)
	if err != nil {
		return nil, fmt.Errorf("wallet_max_usd: %w", err)
	}
	if walletMax < maxUSD {
		return nil, fmt.Errorf("wallet_max_usd %s below per-transaction max %s", walletMax, maxUSD)
	}

	kycAbove := domain.USD(0)
	if rr.RequiresKYCAboveUSD != "" {
		kycAbove, err = domain.ParseUSD(rr.RequiresKYCAboveUSD)
		if err != nil {
			return nil, fmt.Errorf("requires_kyc_above_usd: %w", err)
		}
	}

	if rr.ImmediateReleasePercent < 0 || rr.ImmediateReleasePercent > 100 {
		return nil, fmt.Errorf("immediate_release_percent %d out of range", rr.ImmediateReleasePercent)
	}
	if rr.VestingDurationMonths < 1 {
		return nil, fmt.Errorf("vesting_duration_months must be >= 1")
	}
	if rr.RoundAllocationTokens <= 0 {
		return nil, fmt.Errorf("round_allocation_tokens must be positive")
	}

	tiers := make([]domain.BonusTier, 0, len(rr.BonusTiers))
	for i, rt := range rr.BonusTiers {
		threshold, err := domain.ParseUSD(rt.MinUSD)
		if err != nil {
			return nil, fmt.Errorf("bonus tier %d min_usd: %w", i, err)
		}
		if rt.BonusPercent < 0 || rt.BonusPercent > 100 {
			return nil, fmt.Errorf("bonus tier %d percent %d out of range", i, rt.BonusPercent)
		}
		tiers = append(tiers, domain.BonusTier{MinUSD: threshold, BonusPercent: rt.BonusPercent})
	}
	// Highest threshold first: tier matching is "first satisfied".
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinUSD > tiers[j].MinUSD })

	return &domain.RoundConfig{
		RoundID:                 rr.ID,
		PricePerTokenUSD:        price,
		BonusTiers:              tiers,
		ImmediateReleasePercent: rr.ImmediateReleasePercent,
		VestingDurationMonths:   rr.VestingDurationMonths,
		PerTransactionMinUSD:    minUSD,
		PerTransactionMaxUSD:    maxUSD,
		WalletMaxUSD:            walletMax,
		RequiresWhitelist:       rr.RequiresWhitelist,
		RequiresKYCAboveUSD:     kycAbove,
		RoundAllocationTokens:   domain.Tokens(rr.RoundAllocationTokens),
		StartAt:                 rr.StartAt,
		EndAt:                   rr.EndAt,
	}, nil
}

// Get retrieves a round by ID. Returns storage.ErrNotFound if unknown.
func (c *Catalog) Get(roundID string) (*domain.RoundConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	round, ok := c.rounds[roundID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	roundCopy := *round
	return &roundCopy, nil
}

// Active resolves the active round: the admin pointer when set,
// otherwise the first round whose [StartAt, EndAt] window contains now.
func (c *Catalog) Active() (*domain.RoundConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active != "" {
		round := c.rounds[c.active]
		roundCopy := *round
		return &roundCopy, nil
	}

	now := c.now()
	for _, id := range c.order {
		round := c.rounds[id]
		if !round.StartAt.After(now) && !round.EndAt.Before(now) {
			roundCopy := *round
			return &roundCopy, nil
		}
	}
	return nil, ErrNoActiveRound
}

// SetActive moves the admin pointer. Empty clears it, falling back to
// time-window resolution.
func (c *Catalog) SetActive(roundID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if roundID != "" {
		if _, ok := c.rounds[roundID]; !ok {
			return storage.ErrNotFound
		}
	}
	c.active = roundID
	return nil
}

// IDs returns round IDs in file order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}
