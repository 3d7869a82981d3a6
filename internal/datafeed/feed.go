// Package datafeed provides bar sources: a deterministic synthetic generator
// and CSV replay. The pipeline is agnostic to which feed drives it.
package datafeed

import (
	"github.com/atlasfx/trading-engine/pkg/types"
)

// Feed supplies bars for one or more symbols with strictly increasing
// timestamps on a fixed timeframe.
type Feed interface {
	// NextBar returns the next completed bar for a symbol. ok is false when
	// the feed is exhausted.
	NextBar(symbol string) (types.Bar, bool)
	// History returns up to count seed bars for a symbol.
	History(symbol string, count int) []types.Bar
}
