package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one purchase against a market pool.
// Seq is assigned by the store and breaks ties between trades that share a
// CreatedAt timestamp.
type Trade struct {
	ID             string
	Seq            int64
	AgentID        string
	MarketID       string
	Side           Side
	Amount         decimal.Decimal
	SharesReceived decimal.Decimal
	PriceAtTrade   decimal.Decimal
	CreatedAt      time.Time
}
