package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// OrderBlockDetector detects order blocks: a displacement bar with body at
// least displacement_min_body_atr * ATR, followed by a break of its extreme.
type OrderBlockDetector struct {
	base
	displacementMinBodyATR decimal.Decimal
}

// NewOrderBlockDetector validates parameters and builds the detector.
func NewOrderBlockDetector(logger *zap.Logger, cfg types.DetectorConfig) (*OrderBlockDetector, error) {
	if cfg.DisplacementBodyATR < 0 {
		return nil, config.NewConfigError("detectors.order_block.displacement_min_body_atr", "must be >= 0")
	}
	minBody := cfg.DisplacementBodyATR
	if minBody == 0 {
		minBody = 0.50
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 3
	}
	return &OrderBlockDetector{
		base:                   newBase(logger, "OrderBlockDetector", types.StructureOrderBlock, cfg.ATRWindow, debounce),
		displacementMinBodyATR: decimal.NewFromFloat(minBody),
	}, nil
}

// Detect checks the last two bars for an order-block pattern.
func (d *OrderBlockDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
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

	prev := bars[len(bars)-2]
	curr := bars[len(bars)-1]
	prevBody := prev.Body()

	displaced := prevBody.GreaterThanOrEqual(d.displacementMinBodyATR.Mul(atr))
	bullish := displaced && curr.Close.GreaterThan(prev.High)
	bearish := displaced && curr.Close.LessThan(prev.Low)
	if !bullish && !bearish {
		return nil, nil
	}

	direction := types.DirectionBullish
	if bearish {
		direction = types.DirectionBearish
	}

	bodyATR := prevBody.Div(atr)
	score := qualityScore(decimal.NewFromFloat(0.60), bodyATR, decimal.NewFromFloat(0.15))

	s := d.newStructure(
		series,
		len(bars)-2,
		prev, curr,
		utils.MaxDecimal(prev.High, curr.High),
		utils.MinDecimal(prev.Low, curr.Low),
		direction,
		types.QualityHigh,
		score,
		sessionID,
		map[string]any{
			"body_atr": bodyATR.InexactFloat64(),
			"atr":      atr.InexactFloat64(),
		},
	)

	d.markFired(len(bars))
	d.logger.Debug("ob_detected",
		zap.String("direction", string(direction)),
		zap.Float64("quality_score", score.InexactFloat64()))

	return []types.Structure{s}, nil
}
