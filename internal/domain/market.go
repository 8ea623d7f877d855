package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is a binary YES/NO question backed by a constant-product pool.
//
// YesPool and NoPool hold the live reserves at full precision. SeedYesPool and
// SeedNoPool are the reserves the market opened with; price history replays
// start from them.
type Market struct {
	ID             string
	Question       string
	Description    string
	CreatorID      string
	YesPool        decimal.Decimal
	NoPool         decimal.Decimal
	SeedYesPool    decimal.Decimal
	SeedNoPool     decimal.Decimal
	Version        int64
	Resolved       bool
	Outcome        *Outcome
	ResolutionDate time.Time
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// Status is the presentation label for the market lifecycle.
func (m Market) Status() string {
	if m.Resolved {
		return "resolved"
	}
	return "open"
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
