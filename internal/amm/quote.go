package amm

import (
	"fmt"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// Quote describes the effect of buying side with amount against Before.
type Quote struct {
	Side           domain.Side
	Amount         decimal.Decimal
	SharesReceived decimal.Decimal
	// Price is the average price paid per share.
	Price  decimal.Decimal
	Before Pool
	After  Pool
}

// QuoteBuy prices a purchase. The amount is added to the bought side's
// reserve, the opposite reserve shrinks to keep k constant, and the shrinkage
// is paid out as shares. No intermediate value is rounded.
func QuoteBuy(side domain.Side, p Pool, amount decimal.Decimal) (Quote, error) {
	if !side.Valid() {
		return Quote{}, fmt.Errorf("amm: quote: %w", domain.ErrInvalidSide)
	}
	if !amount.IsPositive() {
		return Quote{}, fmt.Errorf("amm: quote: %w", domain.ErrInvalidAmount)
	}
	if err := p.Validate(); err != nil {
		return Quote{}, fmt.Errorf("amm: quote: %w", err)
	}

	k := p.K()
	var after Pool
	var shares decimal.Decimal
	switch side {
	case domain.SideYes:
		after.Yes = p.Yes.Add(amount)
		after.No = k.Div(after.Yes)
		shares = p.No.Sub(after.No)
	case domain.SideNo:
		after.No = p.No.Add(amount)
		after.Yes = k.Div(after.No)
		shares = p.Yes.Sub(after.Yes)
	}

	if !shares.IsPositive() {
		return Quote{}, fmt.Errorf("amm: quote: %w: %s buys no shares", domain.ErrInvalidAmount, amount)
	}

	return Quote{
		Side:           side,
		Amount:         amount,
		SharesReceived: shares,
		Price:          amount.Div(shares),
		Before:         p,
		After:          after,
	}, nil
}

// Apply returns the pool after a purchase. Trade execution and every replay go
// through this one function so they cannot disagree.
func Apply(p Pool, side domain.Side, amount decimal.Decimal) (Pool, error) {
	q, err := QuoteBuy(side, p, amount)
	if err != nil {
		return Pool{}, err
	}
	return q.After, nil
}
