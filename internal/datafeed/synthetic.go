package datafeed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// SyntheticFeed generates a deterministic walk of bars per symbol. The same
// seed parameters always produce the same sequence, which keeps replay runs
// reproducible without any external data.
type SyntheticFeed struct {
	start     time.Time
	interval  time.Duration
	basePrice map[string]decimal.Decimal
	state     map[string]*synthState
}

type synthState struct {
	index int
	last  decimal.Decimal
}

// NewSyntheticFeed builds a synthetic feed starting at start with the given
// bar interval and per-symbol base prices.
func NewSyntheticFeed(start time.Time, interval time.Duration, basePrices map[string]decimal.Decimal) *SyntheticFeed {
	return &SyntheticFeed{
		start:     start.UTC(),
		interval:  interval,
		basePrice: basePrices,
		state:     make(map[string]*synthState),
	}
}

func (f *SyntheticFeed) stateFor(symbol string) *synthState {
	st, ok := f.state[symbol]
	if !ok {
		base, found := f.basePrice[symbol]
		if !found {
			base = decimal.NewFromFloat(1.10000)
		}
		st = &synthState{last: base}
		f.state[symbol] = st
	}
	return st
}

// NextBar produces the next bar of the deterministic walk.
func (f *SyntheticFeed) NextBar(symbol string) (types.Bar, bool) {
	st := f.stateFor(symbol)
	bar := f.barAt(symbol, st, st.index)
	st.index++
	st.last = bar.Close
	return bar, true
}

// History generates count seed bars, advancing the walk.
func (f *SyntheticFeed) History(symbol string, count int) []types.Bar {
	bars := make([]types.Bar, 0, count)
	for i := 0; i < count; i++ {
		bar, _ := f.NextBar(symbol)
		bars = append(bars, bar)
	}
	return bars
}

// barAt derives the next bar from the previous close and the index, with a
// repeating pattern of pushes and pullbacks that exercises the detectors.
func (f *SyntheticFeed) barAt(symbol string, st *synthState, index int) types.Bar {
	ts := f.start.Add(time.Duration(index) * f.interval)

	// Deterministic oscillation: a 13-bar cycle of drifts in thirds of the
	// base step, with occasional larger displacement bars.
	step := st.last.Div(decimal.NewFromInt(10000)) // ~1 pip on FX majors
	cycle := index % 13
	drift := decimal.NewFromInt(int64(cycle - 6)).Div(decimal.NewFromInt(3))
	if cycle == 5 || cycle == 11 {
		drift = drift.Mul(decimal.NewFromInt(4))
	}

	open := st.last
	clos := open.Add(step.Mul(drift))
	high := utils.MaxDecimal(open, clos).Add(step.Div(decimal.NewFromInt(2)))
	low := utils.MinDecimal(open, clos).Sub(step.Div(decimal.NewFromInt(2)))
	volume := decimal.NewFromInt(int64(1000 + (index%7)*250))

	return types.Bar{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     clos,
		Volume:    volume,
		Timestamp: ts,
	}
}
