package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// SweepDetector detects liquidity sweeps: a wick penetration of the prior
// extreme followed by a close back across it.
type SweepDetector struct {
	base
	sweepExcessATR decimal.Decimal
}

// NewSweepDetector validates parameters and builds the detector.
func NewSweepDetector(logger *zap.Logger, cfg types.DetectorConfig) (*SweepDetector, error) {
	if cfg.SweepExcessATR < 0 {
		return nil, config.NewConfigError("detectors.sweep.sweep_excess_atr", "must be >= 0")
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 6
	}
	return &SweepDetector{
		base:           newBase(logger, "SweepDetector", types.StructureSweep, cfg.ATRWindow, debounce),
		sweepExcessATR: decimal.NewFromFloat(cfg.SweepExcessATR),
	}, nil
}

// Detect checks the last two bars for a wick-rejection sweep.
func (d *SweepDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
	bars := series.Bars
	if len(bars) < 3 {
		return nil, nil
	}

	atr, ok := d.atr(bars)
	if !ok {
		return nil, nil
	}

	if d.debounced(len(bars)) {
		return nil, nil
	}
	d.stats.Seen++

	prev := bars[len(bars)-2]
	curr := bars[len(bars)-1]

	// Bullish sweep: low penetrates below the prior low, close recovers above.
	bullish := curr.Low.LessThan(prev.Low) && curr.Close.GreaterThan(prev.Close)
	// Bearish sweep: high penetrates above the prior high, close falls below.
	bearish := curr.High.GreaterThan(prev.High) && curr.Close.LessThan(prev.Close)
	if !bullish && !bearish {
		return nil, nil
	}

	direction := types.DirectionBullish
	penetration := prev.Low.Sub(curr.Low)
	if bearish {
		direction = types.DirectionBearish
		penetration = curr.High.Sub(prev.High)
	}
	if penetration.LessThan(d.sweepExcessATR.Mul(atr)) {
		return nil, nil
	}

	score := qualityScore(decimal.NewFromFloat(0.60), penetration.Div(atr), decimal.NewFromFloat(0.15))
	s := d.newStructure(
		series,
		len(bars)-1,
		prev, curr,
		utils.MaxDecimal(prev.High, curr.High),
		utils.MinDecimal(prev.Low, curr.Low),
		direction,
		types.QualityMedium,
		score,
		sessionID,
		map[string]any{
			"penetration_atr": penetration.Div(atr).InexactFloat64(),
			"atr":             atr.InexactFloat64(),
		},
	)

	d.markFired(len(bars))
	d.logger.Debug("sweep_detected",
		zap.String("direction", string(direction)),
		zap.Float64("quality_score", score.InexactFloat64()))

	return []types.Structure{s}, nil
}
