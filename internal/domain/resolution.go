package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionEvent records when and how a market was settled. There is at most
// one per market.
type ResolutionEvent struct {
	MarketID   string
	Outcome    Outcome
	ResolvedAt time.Time
}

// Payout marks a position as settled. Amount is zero for positions that only
// held the losing side; the marker is still written so settlement never
// revisits them.
type Payout struct {
	MarketID   string
	PositionID string
	AgentID    string
	Amount     decimal.Decimal
	PaidAt     time.Time
}

// Bus channels.
const (
	ChannelTrades      = "trades"
	ChannelResolutions = "resolutions"
	ChannelMarkets     = "markets"
)
