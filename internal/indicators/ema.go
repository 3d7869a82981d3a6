package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// EMA computes the exponential moving average of closes over the period,
// seeded with the simple mean of the first period closes. ok is false when
// fewer than period bars are available.
func EMA(bars []types.Bar, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(bars) < period {
		return decimal.Zero, false
	}

	seed := decimal.Zero
	for _, b := range bars[:period] {
		seed = seed.Add(b.Close)
	}
	ema := seed.Div(decimal.NewFromInt(int64(period)))

	// multiplier = 2 / (period + 1)
	mult := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	one := decimal.NewFromInt(1)
	for _, b := range bars[period:] {
		ema = b.Close.Mul(mult).Add(ema.Mul(one.Sub(mult)))
	}
	return ema, true
}
