// Package main runs the presale accounting service:
// - Purchase API: validation, pricing, wallet limits, vesting schedules
// - Claim API: vested token claims
// - Admin API: wallet resets, whitelist/KYC management, round control
// - Event fan-out: WebSocket feed and ClickHouse analytics sink
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"presale-engine/internal/analytics"
	"presale-engine/internal/domain"
	"presale-engine/internal/engine"
	"presale-engine/internal/events"
	"presale-engine/internal/observability"
	"presale-engine/internal/rounds"
	"presale-engine/internal/storage"
	"presale-engine/internal/storage/memory"
	"presale-engine/internal/storage/migrations"
	pgstore "presale-engine/internal/storage/postgres"
	"presale-engine/internal/stream"
	"presale-engine/internal/vesting"
)

// Server holds the wired components and request handlers.
type Server struct {
	processor *engine.Processor
	catalog   *rounds.Catalog
	counter   storage.RoundCounter
	ledger    storage.WalletLedger
	registry  storage.ComplianceRegistry
	hub       *stream.Hub
	adminKey  string
	logger    *log.Logger
	started   time.Time
}

// stores holds the storage implementations behind the engine.
type stores struct {
	ledger     storage.WalletLedger
	vesting    storage.VestingStore
	counter    storage.RoundCounter
	compliance storage.ComplianceRegistry
}

func main() {
	// Load .env file if exists; system env vars win.
	_ = godotenv.Load()

	listenAddr := flag.String("listen-addr", ":8080", "HTTP API address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	roundsFile := flag.String("rounds-file", "config/rounds.yaml", "Round catalog YAML file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional analytics sink)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	adminKey := flag.String("admin-key", os.Getenv("ADMIN_KEY"), "Admin API key")
	cooldown := flag.Duration("purchase-cooldown", engine.DefaultCooldown, "Per-wallet purchase cooldown")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *adminKey == "" {
		logger.Fatal("--admin-key (or ADMIN_KEY) is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	catalog, err := rounds.Load(*roundsFile)
	if err != nil {
		logger.Fatalf("Failed to load round catalog: %v", err)
	}
	logger.Printf("Loaded rounds: %v", catalog.IDs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	bus := events.NewBus()
	defer bus.Close()

	processor := engine.NewProcessor(catalog, st.ledger, st.vesting, st.counter, st.compliance, bus, engine.Config{
		AdminKey: *adminKey,
		Cooldown: *cooldown,
	})

	// WebSocket feed.
	hub := stream.NewHub(log.New(os.Stdout, "[stream] ", log.LstdFlags))
	go hub.Run(bus.Subscribe(256))

	// Optional ClickHouse analytics sink.
	if *clickhouseDSN != "" {
		sink, err := connectAnalytics(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to connect analytics: %v", err)
		}
		go sink.Run(ctx, bus.Subscribe(1024))
		logger.Println("Analytics sink connected")
	}

	server := &Server{
		processor: processor,
		catalog:   catalog,
		counter:   st.counter,
		ledger:    st.ledger,
		registry:  st.compliance,
		hub:       hub,
		adminKey:  *adminKey,
		logger:    logger,
		started:   time.Now(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go server.startMetricsServer(*metricsAddr)

	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("Listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
	hub.Close()
	cancel()

	logger.Println("Shutdown complete")
}

// createStores wires either the memory or the Postgres backend.
func createStores(ctx context.Context, postgresDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		st := &stores{
			ledger:     memory.NewWalletLedger(),
			vesting:    memory.NewVestingStore(),
			counter:    memory.NewRoundCounter(),
			compliance: memory.NewComplianceRegistry(),
		}
		return st, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	st := &stores{
		ledger:     pgstore.NewWalletLedger(pool),
		vesting:    pgstore.NewVestingStore(pool),
		counter:    pgstore.NewRoundCounter(pool),
		compliance: pgstore.NewComplianceRegistry(pool),
	}
	return st, pool.Close, nil
}

// connectAnalytics opens the ClickHouse sink and ensures its schema.
func connectAnalytics(ctx context.Context, dsn string) (*analytics.Sink, error) {
	conn, err := analytics.NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	sink := analytics.NewSink(conn, log.New(os.Stdout, "[analytics] ", log.LstdFlags))
	if err := sink.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

// routes builds the HTTP API mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /purchase", s.handlePurchase)
	mux.HandleFunc("POST /claim", s.handleClaim)
	mux.HandleFunc("GET /claimable/{wallet}", s.handleClaimable)
	mux.HandleFunc("GET /limit/{wallet}", s.handleLimit)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /rounds", s.handleRounds)

	mux.HandleFunc("POST /admin/reset", s.handleAdminReset)
	mux.HandleFunc("POST /admin/whitelist", s.handleAdminWhitelist)
	mux.HandleFunc("POST /admin/kyc", s.handleAdminKYC)
	mux.HandleFunc("POST /admin/blacklist", s.handleAdminBlacklist)
	mux.HandleFunc("POST /admin/active-round", s.handleAdminActiveRound)

	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// startMetricsServer serves Prometheus metrics on its own port.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	s.logger.Printf("Metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

type purchaseRequest struct {
	WalletAddress string `json:"wallet_address"`
	AmountUSD     string `json:"amount_usd"`
	Currency      string `json:"currency"`
}

type purchaseResponse struct {
	PurchaseID      string          `json:"purchase_id"`
	WalletAddress   string          `json:"wallet_address"`
	RoundID         string          `json:"round_id"`
	AmountUSD       string          `json:"amount_usd"`
	BaseTokens      int64           `json:"base_tokens"`
	BonusPercent    int             `json:"bonus_percent"`
	BonusTokens     int64           `json:"bonus_tokens"`
	TotalTokens     int64           `json:"total_tokens"`
	ImmediateTokens int64           `json:"immediate_tokens"`
	VestedTokens    int64           `json:"vested_tokens"`
	Timestamp       time.Time       `json:"timestamp"`
	Schedule        []scheduleEntry `json:"vesting_schedule"`
}

type scheduleEntry struct {
	Month      int       `json:"month"`
	UnlockDate time.Time `json:"unlock_date"`
	Tokens     int64     `json:"tokens"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	amount, err := domain.ParseUSD(req.AmountUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount_usd: %v", err))
		return
	}

	start := time.Now()
	receipt, err := s.processor.ProcessPurchase(r.Context(), req.WalletAddress, amount, req.Currency)
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	usdDollars := float64(receipt.USDAmount) / float64(domain.MicroPerDollar)
	observability.RecordPurchaseAccepted(usdDollars, int64(receipt.TotalTokens), time.Since(start).Seconds())
	s.updateRoundGauge(r.Context(), receipt.RoundID)

	schedule := make([]scheduleEntry, 0, len(receipt.Schedule))
	for _, ev := range receipt.Schedule {
		schedule = append(schedule, scheduleEntry{
			Month:      ev.Month,
			UnlockDate: ev.UnlockDate,
			Tokens:     int64(ev.Amount),
		})
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		PurchaseID:      receipt.PurchaseID,
		WalletAddress:   receipt.WalletAddress,
		RoundID:         receipt.RoundID,
		AmountUSD:       receipt.USDAmount.String(),
		BaseTokens:      int64(receipt.BaseTokens),
		BonusPercent:    receipt.BonusPercent,
		BonusTokens:     int64(receipt.BonusTokens),
		TotalTokens:     int64(receipt.TotalTokens),
		ImmediateTokens: int64(receipt.ImmediateTokens),
		VestedTokens:    int64(receipt.VestedTokens),
		Timestamp:       receipt.Timestamp,
		Schedule:        schedule,
	})
}

type claimRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type claimResponse struct {
	WalletAddress string          `json:"wallet_address"`
	TotalTokens   int64           `json:"total_tokens"`
	Events        []scheduleEntry `json:"events"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	snapshot, err := s.processor.Claim(r.Context(), req.WalletAddress, time.Now())
	if err != nil {
		// Nothing unlocked is not a failure; report an empty claim.
		if errors.Is(err, vesting.ErrNothingToClaim) {
			writeJSON(w, http.StatusOK, claimSnapshot(req.WalletAddress, snapshot))
			return
		}
		s.writeProcessorError(w, err)
		return
	}
	observability.RecordClaim(int64(snapshot.Total), time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, claimSnapshot(req.WalletAddress, snapshot))
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")

	snapshot, err := s.processor.Claimable(r.Context(), wallet, time.Now())
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimSnapshot(wallet, snapshot))
}

func claimSnapshot(wallet string, snapshot domain.ClaimableSnapshot) claimResponse {
	entries := make([]scheduleEntry, 0, len(snapshot.Claimable))
	for _, ev := range snapshot.Claimable {
		entries = append(entries, scheduleEntry{
			Month:      ev.Month,
			UnlockDate: ev.UnlockDate,
			Tokens:     int64(ev.Amount),
		})
	}
	return claimResponse{
		WalletAddress: wallet,
		TotalTokens:   int64(snapshot.Total),
		Events:        entries,
	}
}

type limitResponse struct {
	WalletAddress  string `json:"wallet_address"`
	TotalSpentUSD  string `json:"total_spent_usd"`
	PurchaseCount  int    `json:"purchase_count"`
	WalletLimitUSD string `json:"wallet_limit_usd"`
	RemainingUSD   string `json:"remaining_usd"`
	IsAtLimit      bool   `json:"is_at_limit"`
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	info, err := s.processor.LimitInfo(r.Context(), r.PathValue("wallet"))
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, limitResponse{
		WalletAddress:  info.WalletAddress,
		TotalSpentUSD:  info.TotalSpentUSD.String(),
		PurchaseCount:  info.PurchaseCount,
		WalletLimitUSD: info.WalletLimitUSD.String(),
		RemainingUSD:   info.RemainingLimit.String(),
		IsAtLimit:      info.IsAtLimit,
	})
}

type statsResponse struct {
	TotalParticipants  int    `json:"total_participants"`
	TotalPurchases     int    `json:"total_purchases"`
	TotalRaisedUSD     string `json:"total_raised_usd"`
	AveragePurchaseUSD string `json:"average_purchase_usd"`
	WalletsAtLimit     int    `json:"wallets_at_limit"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.processor.Stats(r.Context())
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalParticipants:  stats.TotalParticipants,
		TotalPurchases:     stats.TotalPurchases,
		TotalRaisedUSD:     stats.TotalRaised.String(),
		AveragePurchaseUSD: stats.AveragePurchase.String(),
		WalletsAtLimit:     stats.WalletsAtLimit,
	})
}

type roundInfo struct {
	RoundID         string `json:"round_id"`
	PriceUSD        string `json:"price_per_token_usd"`
	TokensSold      int64  `json:"tokens_sold"`
	AllocationLimit int64  `json:"allocation_limit"`
	Active          bool   `json:"active"`
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	activeID := ""
	if active, err := s.catalog.Active(); err == nil {
		activeID = active.RoundID
	}

	var list []roundInfo
	for _, id := range s.catalog.IDs() {
		round, err := s.catalog.Get(id)
		if err != nil {
			continue
		}
		sold, err := s.counter.Sold(r.Context(), id)
		if err != nil {
			s.writeProcessorError(w, err)
			return
		}
		list = append(list, roundInfo{
			RoundID:         round.RoundID,
			PriceUSD:        round.PricePerTokenUSD.String(),
			TokensSold:      int64(sold),
			AllocationLimit: int64(round.RoundAllocationTokens),
			Active:          id == activeID,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

type adminResetRequest struct {
	WalletAddress string `json:"wallet_address"`
	AdminKey      string `json:"admin_key"`
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var req adminResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.processor.ResetWalletLimit(r.Context(), req.WalletAddress, req.AdminKey); err != nil {
		if errors.Is(err, engine.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		s.writeProcessorError(w, err)
		return
	}
	observability.RecordWalletReset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type adminFlagRequest struct {
	WalletAddress string `json:"wallet_address"`
	Enabled       bool   `json:"enabled"`
}

func (s *Server) handleAdminWhitelist(w http.ResponseWriter, r *http.Request) {
	s.handleAdminFlag(w, r, s.registry.SetWhitelisted)
}

func (s *Server) handleAdminKYC(w http.ResponseWriter, r *http.Request) {
	s.handleAdminFlag(w, r, s.registry.SetKYCVerified)
}

func (s *Server) handleAdminBlacklist(w http.ResponseWriter, r *http.Request) {
	s.handleAdminFlag(w, r, s.ledger.SetBlacklisted)
}

// handleAdminFlag applies one boolean wallet flag after key and address
// checks.
func (s *Server) handleAdminFlag(w http.ResponseWriter, r *http.Request, set func(context.Context, string, bool) error) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid admin key")
		return
	}

	var req adminFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	wallet, verr := engine.NormalizeAddress(req.WalletAddress)
	if verr != nil {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	if err := set(r.Context(), wallet, req.Enabled); err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminRoundRequest struct {
	RoundID string `json:"round_id"`
}

func (s *Server) handleAdminActiveRound(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid admin key")
		return
	}

	var req adminRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.catalog.SetActive(req.RoundID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown round %q", req.RoundID))
			return
		}
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "active_round": req.RoundID})
}

// statusResponse is the JSON response for /status endpoint.
type statusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	ActiveRound   string `json:"active_round,omitempty"`
	StreamClients int    `json:"stream_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		StreamClients: s.hub.ClientCount(),
	}
	if active, err := s.catalog.Active(); err == nil {
		resp.ActiveRound = active.RoundID
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorized checks the X-Admin-Key header.
func (s *Server) authorized(r *http.Request) bool {
	key := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) == 1
}

// updateRoundGauge refreshes the tokens-sold gauge after a purchase.
func (s *Server) updateRoundGauge(ctx context.Context, roundID string) {
	sold, err := s.counter.Sold(ctx, roundID)
	if err != nil {
		return
	}
	observability.UpdateRoundSold(roundID, int64(sold))
}

// writeProcessorError maps engine errors to HTTP responses.
func (s *Server) writeProcessorError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		observability.RecordPurchaseRejected(string(verr.Kind))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  string(verr.Kind),
			"detail": verr.Detail,
		})
		return
	}
	if errors.Is(err, rounds.ErrNoActiveRound) {
		writeError(w, http.StatusServiceUnavailable, "no active sale round")
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Printf("Internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
