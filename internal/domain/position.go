package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an agent's share holdings in one market. There is at most one
// position per (agent, market) pair and share counts never decrease.
type Position struct {
	ID        string
	AgentID   string
	MarketID  string
	YesShares decimal.Decimal
	NoShares  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shares returns the holdings on the given side.
func (p Position) Shares(side Side) decimal.Decimal {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// WinningShares returns the shares that pay 1.0 each under outcome.
func (p Position) WinningShares(outcome Outcome) decimal.Decimal {
	return p.Shares(outcome.Side())
}
