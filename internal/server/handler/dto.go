package handler

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/amm"
	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/service"
)

// Wire shapes. Amounts are rendered as JSON numbers at presentation
// precision; the ledger itself keeps full precision.

type agentJSON struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Balance   json.Number `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
}

func toAgentJSON(a domain.Agent) agentJSON {
	return agentJSON{
		ID:        a.ID,
		Name:      a.Name,
		Balance:   num(a.Balance, balancePlaces),
		CreatedAt: a.CreatedAt,
	}
}

type registerResponse struct {
	agentJSON
	APIKey string `json:"api_key"`
}

type marketJSON struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Description    string          `json:"description"`
	CreatorID      string          `json:"creator_id"`
	YesPool        json.Number     `json:"yes_pool"`
	NoPool         json.Number     `json:"no_pool"`
	YesPrice       json.Number     `json:"yes_price"`
	NoPrice        json.Number     `json:"no_price"`
	Status         string          `json:"status"`
	Resolved       bool            `json:"resolved"`
	Outcome        *domain.Outcome `json:"outcome"`
	ResolutionDate time.Time       `json:"resolution_date"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toMarketJSON(m domain.Market) marketJSON {
	pool := amm.MarketPool(m)
	return marketJSON{
		ID:             m.ID,
		Question:       m.Question,
		Description:    m.Description,
		CreatorID:      m.CreatorID,
		YesPool:        num(m.YesPool, balancePlaces),
		NoPool:         num(m.NoPool, balancePlaces),
		YesPrice:       num(amm.YesPrice(pool), pricePlaces),
		NoPrice:        num(amm.NoPrice(pool), pricePlaces),
		Status:         m.Status(),
		Resolved:       m.Resolved,
		Outcome:        m.Outcome,
		ResolutionDate: m.ResolutionDate,
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
	}
}

type tradeJSON struct {
	ID             string      `json:"id"`
	AgentID        string      `json:"agent_id"`
	MarketID       string      `json:"market_id"`
	Side           domain.Side `json:"side"`
	Amount         json.Number `json:"amount"`
	SharesReceived json.Number `json:"shares_received"`
	PriceAtTrade   json.Number `json:"price_at_trade"`
	CreatedAt      time.Time   `json:"created_at"`
}

type tradeResponse struct {
	Trade          tradeJSON   `json:"trade"`
	SharesReceived json.Number `json:"shares_received"`
	NewBalance     json.Number `json:"new_balance"`
	NewYesPrice    json.Number `json:"new_yes_price"`
}

func toTradeResponse(out service.TradeOutcome) tradeResponse {
	t := out.Trade
	return tradeResponse{
		Trade: tradeJSON{
			ID:             t.ID,
			AgentID:        t.AgentID,
			MarketID:       t.MarketID,
			Side:           t.Side,
			Amount:         num(t.Amount, balancePlaces),
			SharesReceived: num(t.SharesReceived, sharePlaces),
			PriceAtTrade:   num(t.PriceAtTrade, pricePlaces),
			CreatedAt:      t.CreatedAt,
		},
		SharesReceived: num(out.SharesReceived, sharePlaces),
		NewBalance:     num(out.NewBalance, balancePlaces),
		NewYesPrice:    num(out.NewYesPrice, pricePlaces),
	}
}

type resolveResponse struct {
	MarketID     string         `json:"market_id"`
	Outcome      domain.Outcome `json:"outcome"`
	Resolved     bool           `json:"resolved"`
	TotalPaidOut json.Number    `json:"total_paid_out"`
}

type positionJSON struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	Question       string          `json:"question"`
	YesShares      json.Number     `json:"yes_shares"`
	NoShares       json.Number     `json:"no_shares"`
	YesPrice       json.Number     `json:"yes_price"`
	Status         string          `json:"status"`
	Resolved       bool            `json:"resolved"`
	Outcome        *domain.Outcome `json:"outcome"`
	ResolutionDate time.Time       `json:"resolution_date"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toPositionJSON(v service.PositionView) positionJSON {
	status := "open"
	if v.Resolved {
		status = "resolved"
	}
	return positionJSON{
		ID:             v.Position.ID,
		MarketID:       v.Position.MarketID,
		Question:       v.Question,
		YesShares:      num(v.Position.YesShares, sharePlaces),
		NoShares:       num(v.Position.NoShares, sharePlaces),
		YesPrice:       num(v.YesPrice, pricePlaces),
		Status:         status,
		Resolved:       v.Resolved,
		Outcome:        v.Outcome,
		ResolutionDate: v.ResolutionDate,
		UpdatedAt:      v.Position.UpdatedAt,
	}
}

type leaderboardJSON struct {
	Rank           int         `json:"rank"`
	AgentID        string      `json:"agent_id"`
	Name           string      `json:"name"`
	Balance        json.Number `json:"balance"`
	PnL            json.Number `json:"pnl"`
	TradeCount     int         `json:"trade_count"`
	MarketsCreated int         `json:"markets_created"`
	CreatedAt      time.Time   `json:"created_at"`
}

func toLeaderboardJSON(e service.LeaderboardEntry) leaderboardJSON {
	return leaderboardJSON{
		Rank:           e.Rank,
		AgentID:        e.AgentID,
		Name:           e.Name,
		Balance:        num(e.Balance, balancePlaces),
		PnL:            num(e.PnL, balancePlaces),
		TradeCount:     e.TradeCount,
		MarketsCreated: e.MarketsCreated,
		CreatedAt:      e.CreatedAt,
	}
}

type pricePointJSON struct {
	Timestamp time.Time   `json:"timestamp"`
	YesPrice  json.Number `json:"yes_price"`
}

type balancePointJSON struct {
	Timestamp time.Time   `json:"timestamp"`
	Balance   json.Number `json:"balance"`
}

type performanceJSON struct {
	AgentID        string             `json:"agent_id"`
	AgentName      string             `json:"agent_name"`
	CurrentBalance json.Number        `json:"current_balance"`
	Points         []balancePointJSON `json:"points"`
}

func toPerformanceJSON(p service.AgentPerformance) performanceJSON {
	points := make([]balancePointJSON, 0, len(p.Points))
	for _, pt := range p.Points {
		points = append(points, balancePointJSON{
			Timestamp: pt.Timestamp,
			Balance:   num(pt.Balance, balancePlaces),
		})
	}
	return performanceJSON{
		AgentID:        p.AgentID,
		AgentName:      p.AgentName,
		CurrentBalance: num(p.CurrentBalance, balancePlaces),
		Points:         points,
	}
}
