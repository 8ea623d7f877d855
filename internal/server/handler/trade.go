package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/server/middleware"
	"github.com/alanyoungcy/agentmarket/internal/service"
	"github.com/shopspring/decimal"
)

// TradeService executes trades.
type TradeService interface {
	ExecuteTrade(ctx context.Context, agentID, marketID string, side domain.Side, amount decimal.Decimal) (service.TradeOutcome, error)
}

// ResolutionService resolves markets.
type ResolutionService interface {
	ResolveMarket(ctx context.Context, agentID, marketID string, outcome domain.Outcome) (service.ResolutionResult, error)
}

// TradeHandler serves the trade and resolve endpoints.
type TradeHandler struct {
	trades      TradeService
	resolutions ResolutionService
	logger      *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, resolutions ResolutionService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:      trades,
		resolutions: resolutions,
		logger:      logHandler(logger, "trades"),
	}
}

type tradeRequest struct {
	MarketID string          `json:"market_id"`
	Side     domain.Side     `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
}

// Trade buys shares for the authenticated agent.
// POST /api/trade
func (h *TradeHandler) Trade(w http.ResponseWriter, r *http.Request) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "trade", err)
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	out, err := h.trades.ExecuteTrade(r.Context(), agent.ID, req.MarketID, req.Side, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "trade", err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(out))
}

type resolveRequest struct {
	MarketID string         `json:"market_id"`
	Outcome  domain.Outcome `json:"outcome"`
}

// Resolve settles a market the authenticated agent created.
// POST /api/resolve
func (h *TradeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	res, err := h.resolutions.ResolveMarket(r.Context(), agent.ID, req.MarketID, req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		MarketID:     res.MarketID,
		Outcome:      res.Outcome,
		Resolved:     true,
		TotalPaidOut: num(res.TotalPaidOut, balancePlaces),
	})
}
