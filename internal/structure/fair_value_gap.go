package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// FairValueGapDetector detects 3-bar fair value gaps: a price range left
// unfilled between bar1 and bar3, at least min_gap_atr_multiplier * ATR tall.
type FairValueGapDetector struct {
	base
	minGapATRMultiplier decimal.Decimal
}

// NewFairValueGapDetector validates parameters and builds the detector.
func NewFairValueGapDetector(logger *zap.Logger, cfg types.DetectorConfig) (*FairValueGapDetector, error) {
	if cfg.MinGapATRMultiplier < 0 {
		return nil, config.NewConfigError("detectors.fair_value_gap.min_gap_atr_multiplier", "must be >= 0")
	}
	minGap := cfg.MinGapATRMultiplier
	if minGap == 0 {
		minGap = 0.15
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 3
	}
	return &FairValueGapDetector{
		base:                newBase(logger, "FairValueGapDetector", types.StructureFairValueGap, cfg.ATRWindow, debounce),
		minGapATRMultiplier: decimal.NewFromFloat(minGap),
	}, nil
}

// Detect checks the last three bars for an unfilled gap.
func (d *FairValueGapDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
	bars := series.Bars
	if len(bars) < 3 {
		return nil, nil
	}

	atr, ok := d.atr(bars)
	if !ok {
		return nil, nil
	}

	d.stats.Seen++
	if d.debounced(len(bars)) {
		return nil, nil
	}

	bar1 := bars[len(bars)-3]
	bar3 := bars[len(bars)-1]
	minGap := d.minGapATRMultiplier.Mul(atr)

	var structures []types.Structure

	if bar1.High.LessThan(bar3.Low) {
		gap := bar3.Low.Sub(bar1.High)
		if gap.GreaterThanOrEqual(minGap) {
			structures = append(structures, d.gapStructure(series, bar1, bar3, bar1.High, bar3.Low, types.DirectionBullish, gap, atr, sessionID))
		}
	}
	if bar1.Low.GreaterThan(bar3.High) {
		gap := bar1.Low.Sub(bar3.High)
		if gap.GreaterThanOrEqual(minGap) {
			structures = append(structures, d.gapStructure(series, bar1, bar3, bar3.High, bar1.Low, types.DirectionBearish, gap, atr, sessionID))
		}
	}

	if len(structures) > 0 {
		d.markFired(len(series.Bars))
	}
	return structures, nil
}

func (d *FairValueGapDetector) gapStructure(
	series *types.Series,
	bar1, bar3 types.Bar,
	gapLow, gapHigh decimal.Decimal,
	direction types.Direction,
	gap, atr decimal.Decimal,
	sessionID string,
) types.Structure {
	gapATR := gap.Div(atr)
	score := qualityScore(decimal.NewFromFloat(0.60), gapATR, decimal.NewFromFloat(0.15))

	s := d.newStructure(
		series,
		len(series.Bars)-2,
		bar1, bar3,
		gapHigh, gapLow,
		direction,
		types.QualityHigh,
		score,
		sessionID,
		map[string]any{
			"gap_size": gap.InexactFloat64(),
			"gap_atr":  gapATR.InexactFloat64(),
			"atr":      atr.InexactFloat64(),
		},
	)

	d.logger.Debug("fvg_detected",
		zap.String("direction", string(direction)),
		zap.Float64("gap_size", gap.InexactFloat64()),
		zap.Float64("quality_score", score.InexactFloat64()))

	return s
}
