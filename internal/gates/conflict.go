package gates

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// signalMark is one remembered signal in the conflict window.
type signalMark struct {
	barIndex  int
	direction types.Direction
}

// ConflictResolver keeps a per-symbol ring of recent signals and demands a
// higher confidence when an opposing signal sits inside the lookback window.
type ConflictResolver struct {
	logger        *zap.Logger
	enabled       bool
	lookbackBars  int
	baseThreshold decimal.Decimal
	thresholdBump decimal.Decimal

	recent map[string][]signalMark
}

// NewConflictResolver builds the resolver.
func NewConflictResolver(logger *zap.Logger, cfg types.ConflictConfig) *ConflictResolver {
	lookback := cfg.LookbackBars
	if lookback <= 0 {
		lookback = 12
	}
	return &ConflictResolver{
		logger:        logger.Named("conflict-resolver"),
		enabled:       cfg.Enabled,
		lookbackBars:  lookback,
		baseThreshold: decimal.NewFromFloat(cfg.BaseThreshold),
		thresholdBump: decimal.NewFromFloat(cfg.ThresholdBump),
		recent:        make(map[string][]signalMark),
	}
}

// Check evaluates a signal against the conflict window. blocked is true when
// an opposing signal exists and the confidence does not clear the bumped
// threshold. The signal is recorded either way.
func (c *ConflictResolver) Check(symbol string, direction types.Direction, confidence decimal.Decimal, barIndex int) (blocked bool, required decimal.Decimal) {
	if !c.enabled {
		c.record(symbol, direction, barIndex)
		return false, decimal.Zero
	}

	// Drop marks that fell out of the lookback window.
	kept := c.recent[symbol][:0]
	for _, m := range c.recent[symbol] {
		if barIndex-m.barIndex <= c.lookbackBars {
			kept = append(kept, m)
		}
	}
	c.recent[symbol] = kept

	opposing := false
	for _, m := range kept {
		if m.direction != direction {
			opposing = true
			break
		}
	}

	c.record(symbol, direction, barIndex)

	if !opposing {
		return false, decimal.Zero
	}

	required = c.baseThreshold.Add(c.thresholdBump)
	if confidence.GreaterThanOrEqual(required) {
		return false, required
	}
	return true, required
}

func (c *ConflictResolver) record(symbol string, direction types.Direction, barIndex int) {
	c.recent[symbol] = append(c.recent[symbol], signalMark{barIndex: barIndex, direction: direction})
}
