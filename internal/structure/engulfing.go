package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// EngulfingDetector detects bullish and bearish engulfing candles: the
// current body fully engulfs the prior body and dominates its own range.
type EngulfingDetector struct {
	base
	minBodyATR     decimal.Decimal
	minBodyToRange decimal.Decimal
}

// NewEngulfingDetector validates parameters and builds the detector.
func NewEngulfingDetector(logger *zap.Logger, cfg types.DetectorConfig) (*EngulfingDetector, error) {
	if cfg.MinBodyATR < 0 {
		return nil, config.NewConfigError("detectors.engulfing.min_body_atr", "must be >= 0")
	}
	if cfg.MinBodyToRange < 0 || cfg.MinBodyToRange > 1 {
		return nil, config.NewConfigError("detectors.engulfing.min_body_to_range", "must be within [0,1]")
	}
	minBody := cfg.MinBodyATR
	if minBody == 0 {
		minBody = 0.6
	}
	minRatio := cfg.MinBodyToRange
	if minRatio == 0 {
		minRatio = 0.55
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 3
	}
	return &EngulfingDetector{
		base:           newBase(logger, "EngulfingDetector", types.StructureEngulfing, cfg.ATRWindow, debounce),
		minBodyATR:     decimal.NewFromFloat(minBody),
		minBodyToRange: decimal.NewFromFloat(minRatio),
	}, nil
}

// Detect checks the current bar for an engulfing pattern.
func (d *EngulfingDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
	bars := series.Bars
	if len(bars) < 2 {
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

	prev := bars[len(bars)-2]
	curr := bars[len(bars)-1]
	prevBody := prev.Body()
	currBody := curr.Body()
	currRange := curr.Range()
	if currRange.IsZero() {
		return nil, nil
	}

	bigEnough := currBody.GreaterThan(prevBody) &&
		currBody.GreaterThanOrEqual(d.minBodyATR.Mul(atr)) &&
		currBody.Div(currRange).GreaterThanOrEqual(d.minBodyToRange)

	bullish := bigEnough && curr.Close.GreaterThan(prev.Open) && curr.Open.LessThan(prev.Close)
	bearish := bigEnough && curr.Close.LessThan(prev.Open) && curr.Open.GreaterThan(prev.Close)
	if !bullish && !bearish {
		return nil, nil
	}

	direction := types.DirectionBullish
	if bearish {
		direction = types.DirectionBearish
	}

	bodyATR := currBody.Div(atr)
	score := qualityScore(decimal.NewFromFloat(0.70), bodyATR, decimal.NewFromFloat(0.10))
	s := d.newStructure(
		series,
		len(bars)-1,
		prev, curr,
		utils.MaxDecimal(prev.High, curr.High),
		utils.MinDecimal(prev.Low, curr.Low),
		direction,
		types.QualityHigh,
		score,
		sessionID,
		map[string]any{
			"prev_body":     prevBody.InexactFloat64(),
			"curr_body":     currBody.InexactFloat64(),
			"atr":           atr.InexactFloat64(),
			"body_to_range": currBody.Div(currRange).InexactFloat64(),
		},
	)

	d.markFired(len(bars))
	d.logger.Debug("engulfing_detected",
		zap.String("structure_id", s.ID),
		zap.String("direction", string(direction)),
		zap.Float64("quality_score", score.InexactFloat64()))

	return []types.Structure{s}, nil
}
