package amm

import (
	"math/rand"
	"testing"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertNear(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	assert.True(t, WithinTolerance(want, got), "want %s got %s", want, got)
}

func TestQuoteBuyYesFromDefaultSeed(t *testing.T) {
	q, err := QuoteBuy(domain.SideYes, DefaultSeed(), d("50"))
	require.NoError(t, err)

	assert.True(t, q.After.Yes.Equal(d("150")))
	assertNear(t, d("66.6666666667"), q.After.No)
	assertNear(t, d("33.3333333333"), q.SharesReceived)
	assertNear(t, d("1.5"), q.Price)
	assert.Equal(t, "0.3077", YesPrice(q.After).Round(4).String())
	require.NoError(t, CheckInvariant(q.Before, q.After))
}

func TestQuoteBuyNoMirrorsYes(t *testing.T) {
	yes, err := QuoteBuy(domain.SideYes, DefaultSeed(), d("25"))
	require.NoError(t, err)
	no, err := QuoteBuy(domain.SideNo, DefaultSeed(), d("25"))
	require.NoError(t, err)

	assert.True(t, yes.SharesReceived.Equal(no.SharesReceived))
	assert.True(t, yes.After.Yes.Equal(no.After.No))
	assert.True(t, yes.After.No.Equal(no.After.Yes))
	assert.True(t, YesPrice(no.After).GreaterThan(d("0.5")))
}

func TestQuoteBuyRejectsBadInput(t *testing.T) {
	_, err := QuoteBuy(domain.SideYes, DefaultSeed(), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = QuoteBuy(domain.SideYes, DefaultSeed(), d("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = QuoteBuy(domain.Side("MAYBE"), DefaultSeed(), d("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidSide)

	_, err = QuoteBuy(domain.SideNo, Pool{Yes: decimal.Zero, No: d("10")}, d("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidPool)
}

func TestPricesSumToOne(t *testing.T) {
	pools := []Pool{
		DefaultSeed(),
		{Yes: d("150"), No: d("66.6666666666666667")},
		{Yes: d("0.37"), No: d("12345.678")},
		{Yes: d("3"), No: d("7")},
	}
	for _, p := range pools {
		y, n := YesPrice(p), NoPrice(p)
		assert.True(t, y.Add(n).Equal(one), "pool %v", p)
		assert.True(t, y.GreaterThan(decimal.Zero) && y.LessThan(one))
	}
}

func TestRandomTradesPreserveInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := DefaultSeed()
	k := p.K()
	for i := 0; i < 500; i++ {
		side := domain.SideYes
		if rng.Intn(2) == 0 {
			side = domain.SideNo
		}
		amount := decimal.NewFromFloat(0.01 + rng.Float64()*200).Round(4)
		before := YesPrice(p)

		q, err := QuoteBuy(side, p, amount)
		require.NoError(t, err)
		require.NoError(t, CheckInvariant(p, q.After))
		require.True(t, q.SharesReceived.IsPositive())
		assertNear(t, k, q.After.K())

		// The bought side's reserve grows, so its own price falls.
		after := YesPrice(q.After)
		if side == domain.SideYes {
			assert.True(t, after.LessThanOrEqual(before))
		} else {
			assert.True(t, after.GreaterThanOrEqual(before))
		}
		p = q.After
	}
}

func TestApplyKeepsKInEitherOrder(t *testing.T) {
	p1, err := Apply(DefaultSeed(), domain.SideYes, d("10"))
	require.NoError(t, err)
	p1, err = Apply(p1, domain.SideNo, d("20"))
	require.NoError(t, err)

	p2, err := Apply(DefaultSeed(), domain.SideNo, d("20"))
	require.NoError(t, err)
	p2, err = Apply(p2, domain.SideYes, d("10"))
	require.NoError(t, err)

	// Both orderings keep k; they are distinct but valid states.
	assertNear(t, DefaultSeed().K(), p1.K())
	assertNear(t, DefaultSeed().K(), p2.K())
}

func TestCheckInvariantDetectsDrift(t *testing.T) {
	err := CheckInvariant(DefaultSeed(), Pool{Yes: d("150"), No: d("70")})
	assert.ErrorIs(t, err, domain.ErrPoolInvariant)
	assert.ErrorIs(t, err, domain.ErrConsistency)
}

func TestPoolFromPrice(t *testing.T) {
	cases := []struct {
		price   string
		yes, no string
	}{
		{"0.5", "100", "100"},
		{"0.3", "140", "60"},
		{"30", "140", "60"},
		{"0", "198", "2"},
		{"1", "2", "198"},
		{"0.123456", "175.31", "24.69"},
	}
	for _, tc := range cases {
		p := PoolFromPrice(d(tc.price), DefaultLiquidity)
		assert.True(t, p.Yes.Equal(d(tc.yes)), "price %s yes=%s", tc.price, p.Yes)
		assert.True(t, p.No.Equal(d(tc.no)), "price %s no=%s", tc.price, p.No)
	}
	assertNear(t, d("0.3"), YesPrice(PoolFromPrice(d("0.3"), DefaultLiquidity)))
}
