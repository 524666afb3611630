package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tokenvendor/native/vendor"
	"tokenvendor/services/vendord/storage"
)

// EventStore lists persisted engine events, newest first.
type EventStore interface {
	Events(limit int) ([]storage.Event, error)
}

// Config assembles the server's collaborators.
type Config struct {
	ListenAddress string
	Engine        *vendor.Engine
	Events        EventStore
	Owner         [20]byte
	Auth          *Authenticator
	RateLimit     RateLimit
	Logger        *slog.Logger
}

// Server hosts the trade, query and admin HTTP API.
type Server struct {
	cfg     Config
	engine  *vendor.Engine
	events  EventStore
	owner   [20]byte
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics *Metrics
	router  http.Handler
}

// New constructs a configured server and its router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:     cfg,
		engine:  cfg.Engine,
		events:  cfg.Events,
		owner:   cfg.Owner,
		auth:    cfg.Auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		metrics: NewMetrics(),
	}
	srv.router = srv.routes()
	return srv, nil
}

// Handler returns the assembled router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/trade/buy", s.instrument("buy", s.handleBuy))
			r.Post("/trade/sell", s.instrument("sell", s.handleSell))
			r.Post("/progression/boost", s.instrument("boost", s.handleBoost))
			r.Post("/progression/promote", s.instrument("promote", s.handlePromote))
		})

		r.Get("/users/{address}", s.handleUser)
		r.Get("/access/{address}", s.handleAccess)
		r.Get("/collections", s.handleCollections)
		r.Get("/tiers", s.handleTiers)
		r.Get("/tiers/{tier}", s.handleTier)
		r.Get("/info/token", s.handleTokenInfo)
		r.Get("/info/fees", s.handleFeeInfo)
		r.Get("/info/system", s.handleSystemInfo)
		r.Get("/info/constants", s.handleConstants)
		r.Get("/events", s.handleEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/collections", s.instrument("admin_collection_add", s.handleAddCollection))
			r.Post("/collections/batch", s.instrument("admin_collection_batch", s.handleBatchAddCollections))
			r.Delete("/collections/{address}", s.instrument("admin_collection_remove", s.handleRemoveCollection))
			r.Put("/rate", s.instrument("admin_rate", s.handleSetRate))
			r.Put("/fees", s.instrument("admin_fees", s.handleSetFees))
			r.Get("/governance", s.handleGovernance)
			r.Post("/withdraw/fees", s.instrument("admin_withdraw_fees", s.handleWithdrawFees))
			r.Post("/withdraw/native", s.instrument("admin_withdraw_native", s.handleWithdrawNative))
		})
	})
	return r
}

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		outcome := "ok"
		if recorder.status >= 400 {
			outcome = "error"
		}
		s.metrics.Observe(operation, outcome, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tradeRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := s.decodeTrade(w, r)
	if !ok {
		return
	}
	output, err := s.engine.Buy(caller, amount)
	if err != nil {
		s.writeEngineError(w, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output.String()})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := s.decodeTrade(w, r)
	if !ok {
		return
	}
	output, err := s.engine.Sell(caller, amount)
	if err != nil {
		s.writeEngineError(w, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output.String()})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.badRequest(w, "invalid caller address")
		return
	}
	boost, err := s.engine.BoostUp(caller)
	if err != nil {
		s.writeEngineError(w, "boost", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"boost": boost})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.badRequest(w, "invalid caller address")
		return
	}
	tier, err := s.engine.Promote(caller)
	if err != nil {
		s.writeEngineError(w, "promote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tier": tier.String()})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, "invalid address")
		return
	}
	user, err := s.engine.UserState(addr)
	if err != nil {
		s.writeEngineError(w, "user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":       formatAddress(addr),
		"tier":          user.Tier.String(),
		"points":        user.Points,
		"boost":         user.Boost,
		"dailySold":     user.DailySold.String(),
		"windowStart":   user.WindowStart,
		"lastMaxSaleAt": user.LastMaxSaleAt,
	})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, "invalid address")
		return
	}
	collection, err := s.engine.FirstValidCollection(addr)
	if err != nil {
		s.writeEngineError(w, "access", err)
		return
	}
	response := map[string]any{"hasValidKey": collection != [20]byte{}}
	if collection != [20]byte{} {
		response["collection"] = formatAddress(collection)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.engine.WhitelistedCollections()
	if err != nil {
		s.writeEngineError(w, "collections", err)
		return
	}
	encoded := make([]string, 0, len(collections))
	for _, collection := range collections {
		encoded = append(encoded, formatAddress(collection))
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": encoded})
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers := make([]map[string]any, 0, 3)
	for _, tier := range []vendor.Tier{vendor.TierBase, vendor.TierMid, vendor.TierTop} {
		cfg, err := s.engine.TierConfigFor(tier)
		if err != nil {
			s.writeEngineError(w, "tiers", err)
			return
		}
		tiers = append(tiers, tierPayload(tier, cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	tier, err := vendor.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		s.writeEngineError(w, "tier", err)
		return
	}
	cfg, err := s.engine.TierConfigFor(tier)
	if err != nil {
		s.writeEngineError(w, "tier", err)
		return
	}
	writeJSON(w, http.StatusOK, tierPayload(tier, cfg))
}

func tierPayload(tier vendor.Tier, cfg *vendor.TierConfig) map[string]any {
	return map[string]any{
		"tier":                     tier.String(),
		"burnAmount":               cfg.BurnAmount.String(),
		"boostGain":                cfg.BoostGain,
		"pointsPerQualifyingBuy":   cfg.PointsPerQualifyingBuy,
		"qualifyingBuyThreshold":   cfg.QualifyingBuyThreshold.String(),
		"maxSellBps":               cfg.MaxSellBps,
		"dailyLimitMultiplier":     cfg.DailyLimitMultiplier,
		"promotionPointsThreshold": cfg.PromotionPointsThreshold,
		"promotionBoostThreshold":  cfg.PromotionBoostThreshold,
	}
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.TokenConfig()
	if err != nil {
		s.writeEngineError(w, "token info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baseAsset":        formatAddress(cfg.BaseAsset),
		"swapAsset":        formatAddress(cfg.SwapAsset),
		"exchangeRate":     cfg.ExchangeRate.String(),
		"lastRateChangeAt": cfg.LastRateChangeAt,
	})
}

func (s *Server) handleFeeInfo(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.FeeConfig()
	if err != nil {
		s.writeEngineError(w, "fee info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buyFeeBps":       cfg.BuyFeeBps,
		"sellFeeBps":      cfg.SellFeeBps,
		"maxFeeBps":       cfg.MaxFeeBps,
		"lastFeeChangeAt": cfg.LastFeeChangeAt,
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.SystemState()
	if err != nil {
		s.writeEngineError(w, "system info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baseAssetFees": state.BaseAssetFees.String(),
		"swapAssetFees": state.SwapAssetFees.String(),
		"owner":         formatAddress(state.Owner),
		"devAddress":    formatAddress(state.DevAddress),
	})
}

func (s *Server) handleConstants(w http.ResponseWriter, r *http.Request) {
	constants := s.engine.TierConstants()
	writeJSON(w, http.StatusOK, map[string]any{
		"minBuyAmount":        constants.MinBuyAmount.String(),
		"minSellAmount":       constants.MinSellAmount.String(),
		"maxBoost":            constants.MaxBoost,
		"maxCollections":      constants.MaxCollections,
		"cooldownSeconds":     int64(constants.CooldownPeriod.Seconds()),
		"rateTimelockSeconds": int64(constants.RateTimelock.Seconds()),
		"feeTimelockSeconds":  int64(constants.FeeTimelock.Seconds()),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []storage.Event{}})
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.badRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}
	events, err := s.events.Events(limit)
	if err != nil {
		s.logger.Error("list events", "error", err)
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type collectionRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleAddCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	collection, err := parseAddress(req.Address)
	if err != nil {
		s.badRequest(w, "invalid collection address")
		return
	}
	if err := s.engine.AddCollection(s.owner, collection); err != nil {
		s.writeEngineError(w, "add collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchCollectionRequest struct {
	Addresses []string `json:"addresses"`
}

func (s *Server) handleBatchAddCollections(w http.ResponseWriter, r *http.Request) {
	var req batchCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	if len(req.Addresses) == 0 {
		s.badRequest(w, "addresses required")
		return
	}
	collections := make([][20]byte, 0, len(req.Addresses))
	for _, raw := range req.Addresses {
		collection, err := parseAddress(raw)
		if err != nil {
			s.badRequest(w, "invalid collection address")
			return
		}
		collections = append(collections, collection)
	}
	if err := s.engine.BatchAddCollections(s.owner, collections); err != nil {
		s.writeEngineError(w, "batch add collections", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, "invalid collection address")
		return
	}
	if err := s.engine.RemoveCollection(s.owner, collection); err != nil {
		s.writeEngineError(w, "remove collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	rate, ok := new(big.Int).SetString(strings.TrimSpace(req.Rate), 10)
	if !ok {
		s.badRequest(w, "invalid rate")
		return
	}
	if err := s.engine.SetExchangeRate(s.owner, rate); err != nil {
		s.writeEngineError(w, "set rate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyFeeBps  uint64 `json:"buyFeeBps"`
		SellFeeBps uint64 `json:"sellFeeBps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	if err := s.engine.SetFeeRates(s.owner, req.BuyFeeBps, req.SellFeeBps); err != nil {
		s.writeEngineError(w, "set fees", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	canRate, err := s.engine.CanChangeExchangeRate()
	if err != nil {
		s.writeEngineError(w, "governance", err)
		return
	}
	canFees, err := s.engine.CanChangeFeeRates()
	if err != nil {
		s.writeEngineError(w, "governance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"canChangeExchangeRate": canRate,
		"canChangeFeeRates":     canFees,
	})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	baseFees, swapFees, err := s.engine.WithdrawFees(s.owner)
	if err != nil {
		s.writeEngineError(w, "withdraw fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"baseFees": baseFees.String(),
		"swapFees": swapFees.String(),
	})
}

func (s *Server) handleWithdrawNative(w http.ResponseWriter, r *http.Request) {
	amount, err := s.engine.WithdrawNative(s.owner)
	if err != nil {
		s.writeEngineError(w, "withdraw native", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) decodeTrade(w http.ResponseWriter, r *http.Request) ([20]byte, *big.Int, bool) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return [20]byte{}, nil, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.badRequest(w, "invalid caller address")
		return [20]byte{}, nil, false
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		s.badRequest(w, "invalid amount")
		return [20]byte{}, nil, false
	}
	return caller, amount, true
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.metrics.Reject("bad_request")
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// writeEngineError maps engine sentinels onto HTTP statuses. Limit and
// cooldown violations surface as 429 so clients back off.
func (s *Server) writeEngineError(w http.ResponseWriter, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vendor.ErrNoValidKey), errors.Is(err, vendor.ErrUnauthorizedCaller):
		status = http.StatusForbidden
	case errors.Is(err, vendor.ErrAmountBelowMinimum),
		errors.Is(err, vendor.ErrInvalidFeeBps),
		errors.Is(err, vendor.ErrInvalidExchangeRate),
		errors.Is(err, vendor.ErrInvalidCollection),
		errors.Is(err, vendor.ErrInvalidDevAddress):
		status = http.StatusBadRequest
	case errors.Is(err, vendor.ErrCollectionNotFound), errors.Is(err, vendor.ErrUnknownTier):
		status = http.StatusNotFound
	case errors.Is(err, vendor.ErrCollectionAlreadyAdded),
		errors.Is(err, vendor.ErrWhitelistFull),
		errors.Is(err, vendor.ErrMaxStageReached),
		errors.Is(err, vendor.ErrInsufficientForUpgrade),
		errors.Is(err, vendor.ErrNativeVaultNotConfigured):
		status = http.StatusConflict
	case errors.Is(err, vendor.ErrStageSellLimitExceeded),
		errors.Is(err, vendor.ErrDailySellLimitExceeded),
		errors.Is(err, vendor.ErrStageCooldownActive),
		errors.Is(err, vendor.ErrRateCooldownActive),
		errors.Is(err, vendor.ErrFeeCooldownActive):
		status = http.StatusTooManyRequests
	case errors.Is(err, vendor.ErrTokenTransferFailed), errors.Is(err, vendor.ErrNativeTransferFailed):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("engine error", "operation", operation, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
