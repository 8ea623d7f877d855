package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StartingBalance is the play-money balance every agent registers with.
var StartingBalance = decimal.NewFromInt(1000)

// Agent is a registered participant. APIKeyDigest is the keyed digest of the
// credential handed out at registration; the plaintext key is never stored.
type Agent struct {
	ID           string
	Name         string
	Balance      decimal.Decimal
	APIKeyDigest string
	CreatedAt    time.Time
}
