package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"LevGuard/internal/auction"
	"LevGuard/internal/core"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/liquidation"
	"LevGuard/internal/nav"
	"LevGuard/internal/observability"
	"LevGuard/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the risk core over HTTP/JSON. Mutations go through
// the core facade; reads of history go to the projection tables via
// the query service.
type Server struct {
	core    *core.RiskCore
	queries *query.Service
	health  *observability.HealthChecker
	logger  zerolog.Logger
}

func New(riskCore *core.RiskCore, queries *query.Service, health *observability.HealthChecker) *Server {
	return &Server{
		core:    riskCore,
		queries: queries,
		health:  health,
		logger:  observability.NewLogger("server"),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler)
		r.Get("/readyz", s.health.ReadinessHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/risk/update", s.updateRiskLevel)
		v1.Post("/risk/bark", s.bark)
		v1.Post("/risk/withdraw", s.withdraw)
		v1.Post("/risk/adjust", s.adjust)
		v1.Get("/risk/status/{owner}/{tokenID}", s.riskStatus)
		v1.Get("/risk/liquidation-price/{owner}/{tokenID}", s.liquidationPrice)

		v1.Get("/auctions", s.listAuctions)
		v1.Get("/auctions/{auctionID}", s.getAuction)
		v1.Get("/auctions/{auctionID}/trades", s.auctionTrades)
		v1.Post("/auctions/{auctionID}/purchase", s.purchase)
		v1.Post("/auctions/{auctionID}/reset", s.resetAuction)

		v1.Get("/history/liquidations/{owner}", s.liquidationHistory)

		v1.Post("/admin/liquidation-config", s.setLiquidationConfig)
		v1.Post("/admin/auction-params", s.setAuctionParams)
		v1.Post("/admin/auctions/{auctionID}/cancel", s.cancelAuction)
	})

	return r
}

// ---- request/response bodies ----

type bucketRequest struct {
	Owner   uuid.UUID `json:"owner"`
	TokenID uint64    `json:"token_id"`
}

type barkRequest struct {
	Owner   uuid.UUID `json:"owner"`
	TokenID uint64    `json:"token_id"`
	Keeper  uuid.UUID `json:"keeper"`
}

type adjustRequest struct {
	Owner      uuid.UUID `json:"owner"`
	TokenID    uint64    `json:"token_id"`
	Percentage int       `json:"percentage"`
}

type purchaseRequest struct {
	Buyer              uuid.UUID      `json:"buyer"`
	MaxAmount          fixedpoint.Wad `json:"max_amount"`
	MaxAcceptablePrice fixedpoint.Wad `json:"max_acceptable_price"`
	Recipient          uuid.UUID      `json:"recipient"`
}

type keeperRequest struct {
	Keeper uuid.UUID `json:"keeper"`
}

type liquidationConfigRequest struct {
	Caller               uuid.UUID      `json:"caller"`
	AdjustmentThreshold  fixedpoint.Wad `json:"adjustment_threshold"`
	LiquidationThreshold fixedpoint.Wad `json:"liquidation_threshold"`
	PenaltyRate          fixedpoint.Wad `json:"penalty_rate"`
	Enabled              bool           `json:"enabled"`
}

type auctionParamsRequest struct {
	Caller             uuid.UUID      `json:"caller"`
	PriceMultiplier    fixedpoint.Wad `json:"price_multiplier"`
	ResetTimeSeconds   int64          `json:"reset_time_seconds"`
	PriceDropThreshold fixedpoint.Wad `json:"price_drop_threshold"`
	PercentageReward   fixedpoint.Wad `json:"percentage_reward"`
	FixedReward        fixedpoint.Wad `json:"fixed_reward"`
	MinAuctionAmount   fixedpoint.Wad `json:"min_auction_amount"`
}

type callerRequest struct {
	Caller uuid.UUID `json:"caller"`
}

type auctionView struct {
	ID                   uuid.UUID      `json:"id"`
	TokenID              uint64         `json:"token_id"`
	OriginalOwner        uuid.UUID      `json:"original_owner"`
	InitialUnderlying    fixedpoint.Wad `json:"initial_underlying"`
	UnderlyingRemaining  fixedpoint.Wad `json:"underlying_remaining"`
	StartingPrice        fixedpoint.Wad `json:"starting_price"`
	CurrentPrice         fixedpoint.Wad `json:"current_price"`
	Stale                bool           `json:"stale"`
	StartTime            time.Time      `json:"start_time"`
	LastResetTime        time.Time      `json:"last_reset_time"`
	TotalPaymentReceived fixedpoint.Wad `json:"total_payment_received"`
}

// ---- handlers ----

func (s *Server) updateRiskLevel(w http.ResponseWriter, r *http.Request) {
	var req bucketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	netNav, level, err := s.core.UpdateRiskLevel(req.Owner, req.TokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":      req.Owner,
		"token_id":   req.TokenID,
		"net_nav":    netNav,
		"risk_level": level,
	})
}

func (s *Server) bark(w http.ResponseWriter, r *http.Request) {
	var req barkRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	res, err := s.core.Bark(req.Owner, req.TokenID, req.Keeper)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auction_id":    res.AuctionID,
		"seized_claim":  res.SeizedClaim,
		"seized_value":  res.SeizedValue,
		"underlying":    res.Underlying,
		"keeper_reward": res.KeeperReward,
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req bucketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	res, err := s.core.WithdrawStable(req.Owner, req.TokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payout":  res.Payout,
		"penalty": res.Penalty,
	})
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	res, err := s.core.AdjustNetValue(req.Owner, req.TokenID, req.Percentage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"new_token_id":     res.NewTokenID,
		"burned_claim":     res.BurnedClaim,
		"settled_interest": res.SettledInterest,
		"new_balance":      res.NewBalance,
		"old_risk_level":   res.OldRiskLevel,
		"new_risk_level":   res.NewRiskLevel,
	})
}

func (s *Server) riskStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	st, err := s.core.Status(owner, tokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":                st.Owner,
		"token_id":             st.TokenID,
		"net_nav":              st.NetNav,
		"risk_level":           st.RiskLevel,
		"is_frozen":            st.IsFrozen,
		"is_under_liquidation": st.IsUnderLiquidation,
		"is_liquidated":        st.IsLiquidated,
		"stable_proceeds":      st.StableProceeds,
		"auction_id":           st.AuctionID,
		"updated_at":           st.UpdatedAt,
	})
}

func (s *Server) liquidationPrice(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	price, err := s.core.LiquidationPrice(owner, tokenID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":             owner,
		"token_id":          tokenID,
		"liquidation_price": price,
	})
}

func (s *Server) listAuctions(w http.ResponseWriter, r *http.Request) {
	auctions := s.core.ActiveAuctions()
	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, s.view(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": views})
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	a, err := s.core.Auction(auctionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) view(a auction.Auction) auctionView {
	price, _ := s.core.CurrentPrice(a.ID)
	stale, _ := s.core.IsStale(a.ID)
	return auctionView{
		ID:                   a.ID,
		TokenID:              a.TokenID,
		OriginalOwner:        a.OriginalOwner,
		InitialUnderlying:    a.InitialUnderlying,
		UnderlyingRemaining:  a.UnderlyingRemaining,
		StartingPrice:        a.StartingPrice,
		CurrentPrice:         price,
		Stale:                stale,
		StartTime:            a.StartTime,
		LastResetTime:        a.LastResetTime,
		TotalPaymentReceived: a.TotalPaymentReceived,
	}
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req purchaseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	recipient := req.Recipient
	if recipient == uuid.Nil {
		recipient = req.Buyer
	}

	res, err := s.core.Purchase(auctionID, req.Buyer, req.MaxAmount, req.MaxAcceptablePrice, recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount_bought": res.AmountBought,
		"amount_paid":   res.AmountPaid,
		"price":         res.Price,
		"completed":     res.Completed,
	})
}

func (s *Server) resetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req keeperRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.core.ResetAuction(auctionID, req.Keeper); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.core.Auction(auctionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) liquidationHistory(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history unavailable"})
		return
	}
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.queries.LiquidationHistory(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (s *Server) auctionTrades(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history unavailable"})
		return
	}
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	trades, err := s.queries.AuctionTrades(r.Context(), auctionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) setLiquidationConfig(w http.ResponseWriter, r *http.Request) {
	var req liquidationConfigRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	cfg := liquidation.GlobalConfig{
		Thresholds: nav.Thresholds{
			Adjustment:  req.AdjustmentThreshold,
			Liquidation: req.LiquidationThreshold,
		},
		PenaltyRate: req.PenaltyRate,
		Enabled:     req.Enabled,
	}
	if err := s.core.SetLiquidationConfig(req.Caller, cfg); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) setAuctionParams(w http.ResponseWriter, r *http.Request) {
	var req auctionParamsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	params := auction.Params{
		PriceMultiplier:    req.PriceMultiplier,
		ResetTime:          time.Duration(req.ResetTimeSeconds) * time.Second,
		PriceDropThreshold: req.PriceDropThreshold,
		PercentageReward:   req.PercentageReward,
		FixedReward:        req.FixedReward,
		MinAuctionAmount:   req.MinAuctionAmount,
	}
	if err := s.core.SetAuctionParams(req.Caller, params); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) cancelAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req callerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.core.CancelAuction(req.Caller, auctionID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ---- plumbing ----

func decodeRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": err.Error(),
		"class": core.ClassValidation.String(),
	})
}

// writeError maps the failure class onto an HTTP status: transient
// contention is 409 (retry as-is), permanent ineligibility is 422
// (retry only after state changes).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "class": "not_found"})
		return
	}

	class := core.Classify(err)
	status := http.StatusInternalServerError
	switch class {
	case core.ClassValidation:
		status = http.StatusBadRequest
	case core.ClassUnauthorized:
		status = http.StatusForbidden
	case core.ClassNotFound:
		status = http.StatusNotFound
	case core.ClassResource:
		status = http.StatusConflict
	case core.ClassPrecondition:
		status = http.StatusUnprocessableEntity
	case core.ClassInvariant:
		status = http.StatusInternalServerError
		s.logger.Error().Err(err).Msg("invariant violation surfaced to client")
	}
	writeJSON(w, status, map[string]string{
		"error":     err.Error(),
		"class":     class.String(),
		"retryable": strconv.FormatBool(core.Retryable(err)),
	})
}
