package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// BreakOfStructureDetector detects closes beyond the rolling pivot high/low
// over a lookback window.
type BreakOfStructureDetector struct {
	base
	pivotWindow      int
	lastBOSDirection types.Direction
	lastBOSIndex     int
}

// NewBreakOfStructureDetector validates parameters and builds the detector.
func NewBreakOfStructureDetector(logger *zap.Logger, cfg types.DetectorConfig) (*BreakOfStructureDetector, error) {
	pivot := cfg.PivotWindow
	if pivot == 0 {
		pivot = 4
	}
	if pivot < 2 {
		return nil, config.NewConfigError("detectors.break_of_structure.pivot_window", "must be >= 2")
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 2
	}
	return &BreakOfStructureDetector{
		base:         newBase(logger, "BreakOfStructureDetector", types.StructureBreakOfStructure, cfg.ATRWindow, debounce),
		pivotWindow:  pivot,
		lastBOSIndex: debounceReset,
	}, nil
}

// Detect checks the current close against the pivot extremes.
func (d *BreakOfStructureDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
	bars := series.Bars
	if len(bars) < d.pivotWindow+2 {
		return nil, nil
	}

	atr, ok := d.atr(bars)
	if !ok {
		return nil, nil
	}

	d.stats.Seen++

	pivotBars := bars[len(bars)-(d.pivotWindow+1) : len(bars)-1]
	pivotHigh := pivotBars[0].High
	pivotLow := pivotBars[0].Low
	for _, b := range pivotBars[1:] {
		if b.High.GreaterThan(pivotHigh) {
			pivotHigh = b.High
		}
		if b.Low.LessThan(pivotLow) {
			pivotLow = b.Low
		}
	}

	curr := bars[len(bars)-1]
	bullish := curr.Close.GreaterThan(pivotHigh)
	bearish := curr.Close.LessThan(pivotLow)

	// Same-direction debounce only: an opposite break is always news.
	if bullish && d.lastBOSDirection == types.DirectionBullish && len(bars)-d.lastBOSIndex < d.debounceBars {
		bullish = false
	}
	if bearish && d.lastBOSDirection == types.DirectionBearish && len(bars)-d.lastBOSIndex < d.debounceBars {
		bearish = false
	}
	if !bullish && !bearish {
		return nil, nil
	}

	direction := types.DirectionBullish
	breakLevel := pivotHigh
	if bearish {
		direction = types.DirectionBearish
		breakLevel = pivotLow
	}

	score := decimal.NewFromFloat(0.65)
	s := d.newStructure(
		series,
		len(bars)-1,
		bars[len(bars)-(d.pivotWindow+1)], curr,
		pivotHigh, pivotLow,
		direction,
		types.QualityMedium,
		score,
		sessionID,
		map[string]any{
			"pivot_high":     pivotHigh.InexactFloat64(),
			"pivot_low":      pivotLow.InexactFloat64(),
			"break_strength": curr.Close.Sub(breakLevel).Abs().InexactFloat64(),
			"atr":            atr.InexactFloat64(),
		},
	)

	d.lastBOSIndex = len(bars)
	d.lastBOSDirection = direction
	d.stats.Fired++

	d.logger.Debug("bos_detected",
		zap.String("direction", string(direction)),
		zap.Float64("quality_score", score.InexactFloat64()))

	return []types.Structure{s}, nil
}
