package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/server/middleware"
	"github.com/alanyoungcy/agentmarket/internal/service"
	"github.com/shopspring/decimal"
)

// MarketService defines the methods that the market handler requires from the
// service layer.
type MarketService interface {
	Create(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// PriceHistoryService replays a market's price path.
type PriceHistoryService interface {
	Replay(ctx context.Context, marketID string) ([]service.PricePoint, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	history PriceHistoryService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, history PriceHistoryService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		history: history,
		logger:  logHandler(logger, "markets"),
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketJSON `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets newest first with their current prices.
// GET /api/markets?limit=50&offset=0&status=open
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	status := strings.ToLower(r.URL.Query().Get("status"))
	out := make([]marketJSON, 0, len(markets))
	for _, m := range markets {
		if status != "" && m.Status() != status {
			continue
		}
		out = append(out, toMarketJSON(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type createMarketRequest struct {
	Question       string           `json:"question"`
	Description    string           `json:"description"`
	ResolutionDate time.Time        `json:"resolution_date"`
	SeedYesPrice   *decimal.Decimal `json:"seed_yes_price"`
}

// CreateMarket opens a market owned by the authenticated agent.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}

	m, err := h.markets.Create(r.Context(), service.CreateMarketRequest{
		CreatorID:      agent.ID,
		Question:       req.Question,
		Description:    req.Description,
		ResolutionDate: req.ResolutionDate,
		SeedYesPrice:   req.SeedYesPrice,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketJSON(m))
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketJSON(m))
}

// PriceHistory returns the yes price after the seed and after every trade.
// GET /api/markets/{id}/price-history
func (h *MarketHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	points, err := h.history.Replay(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "price history", err)
		return
	}
	out := make([]pricePointJSON, 0, len(points))
	for _, p := range points {
		out = append(out, pricePointJSON{Timestamp: p.Timestamp, YesPrice: num(p.YesPrice, pricePlaces)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"points":    out,
	})
}
