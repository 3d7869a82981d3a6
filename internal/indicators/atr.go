// Package indicators provides fixed-decimal technical indicators.
package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// ATR computes the Average True Range over the trailing period as a simple
// mean of true ranges. Bars must be sorted by ascending timestamp. ok is
// false when fewer than period+1 bars are available.
func ATR(bars []types.Bar, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(bars) < period+1 {
		return decimal.Zero, false
	}

	trueRanges := make([]decimal.Decimal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr1 := bars[i].High.Sub(bars[i].Low)
		tr2 := bars[i].High.Sub(prevClose).Abs()
		tr3 := bars[i].Low.Sub(prevClose).Abs()
		trueRanges = append(trueRanges, utils.MaxDecimal(tr1, utils.MaxDecimal(tr2, tr3)))
	}

	if len(trueRanges) < period {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for _, tr := range trueRanges[len(trueRanges)-period:] {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}
