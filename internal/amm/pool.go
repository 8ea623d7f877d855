// Package amm implements the constant-product market maker that prices every
// market. All functions are pure; callers own persistence and locking.
package amm

import (
	"fmt"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	one = decimal.NewFromInt(1)

	// invariantTolerance bounds the relative drift of k across a trade.
	invariantTolerance = decimal.New(1, -6)

	minSeedPrice = decimal.New(1, -2)
	maxSeedPrice = decimal.New(99, -2)
	hundred      = decimal.NewFromInt(100)
)

// DefaultLiquidity is the combined reserve of a freshly seeded market.
var DefaultLiquidity = decimal.NewFromInt(200)

// Pool holds the reserves of a market.
type Pool struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// DefaultSeed opens a market at 0.5.
func DefaultSeed() Pool {
	return Pool{Yes: decimal.NewFromInt(100), No: decimal.NewFromInt(100)}
}

// MarketPool returns the live reserves of m.
func MarketPool(m domain.Market) Pool {
	return Pool{Yes: m.YesPool, No: m.NoPool}
}

// SeedPool returns the reserves m opened with.
func SeedPool(m domain.Market) Pool {
	return Pool{Yes: m.SeedYesPool, No: m.SeedNoPool}
}

// Validate checks that both reserves are positive.
func (p Pool) Validate() error {
	if !p.Yes.IsPositive() || !p.No.IsPositive() {
		return fmt.Errorf("%w: yes=%s no=%s", domain.ErrInvalidPool, p.Yes, p.No)
	}
	return nil
}

// K is the constant product.
func (p Pool) K() decimal.Decimal {
	return p.Yes.Mul(p.No)
}

// YesPrice is the implied probability of YES: no / (yes + no).
func YesPrice(p Pool) decimal.Decimal {
	return p.No.Div(p.Yes.Add(p.No))
}

// NoPrice is the implied probability of NO. It is computed as the complement
// of YesPrice so the two always sum to exactly one.
func NoPrice(p Pool) decimal.Decimal {
	return one.Sub(YesPrice(p))
}

// PriceOf returns the current price of side.
func PriceOf(p Pool, side domain.Side) decimal.Decimal {
	if side == domain.SideYes {
		return YesPrice(p)
	}
	return NoPrice(p)
}

// CheckInvariant verifies that after preserves the constant product of before
// within a relative tolerance of 1e-6.
func CheckInvariant(before, after Pool) error {
	k0, k1 := before.K(), after.K()
	if !WithinTolerance(k0, k1) {
		return fmt.Errorf("%w: k moved from %s to %s", domain.ErrPoolInvariant, k0, k1)
	}
	return nil
}

// WithinTolerance reports whether got differs from want by at most 1e-6
// relative to want (absolute when want is zero).
func WithinTolerance(want, got decimal.Decimal) bool {
	diff := got.Sub(want).Abs()
	if want.IsZero() {
		return diff.LessThanOrEqual(invariantTolerance)
	}
	return diff.Div(want.Abs()).LessThanOrEqual(invariantTolerance)
}

// PoolFromPrice seeds reserves so the market opens at yesPrice. Prices above
// one are read as percentages and the result is clamped to [0.01, 0.99].
// Reserves are rounded to cents.
func PoolFromPrice(yesPrice, liquidity decimal.Decimal) Pool {
	p := yesPrice
	if p.GreaterThan(one) {
		p = p.Div(hundred)
	}
	if p.LessThan(minSeedPrice) {
		p = minSeedPrice
	}
	if p.GreaterThan(maxSeedPrice) {
		p = maxSeedPrice
	}
	return Pool{
		Yes: liquidity.Mul(one.Sub(p)).Round(2),
		No:  liquidity.Mul(p).Round(2),
	}
}
