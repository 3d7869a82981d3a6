package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// RejectionDetector detects unified zone rejections: a meaningful reaction
// body with directional follow-through across the lookahead window.
type RejectionDetector struct {
	base
	minReactionBodyATR decimal.Decimal
	lookaheadBars      int
}

// NewRejectionDetector validates parameters and builds the detector.
func NewRejectionDetector(logger *zap.Logger, cfg types.DetectorConfig) (*RejectionDetector, error) {
	if cfg.MinReactionBodyATR < 0 {
		return nil, config.NewConfigError("detectors.rejection.min_reaction_body_atr", "must be >= 0")
	}
	lookahead := cfg.LookaheadBars
	if lookahead == 0 {
		lookahead = 6
	}
	if lookahead < 0 {
		return nil, config.NewConfigError("detectors.rejection.lookahead_bars", "must be > 0")
	}
	minBody := cfg.MinReactionBodyATR
	if minBody == 0 {
		minBody = 0.35
	}
	debounce := cfg.DebounceBars
	if debounce == 0 {
		debounce = 2
	}
	return &RejectionDetector{
		base:               newBase(logger, "RejectionDetector", types.StructureRejection, cfg.ATRWindow, debounce),
		minReactionBodyATR: decimal.NewFromFloat(minBody),
		lookaheadBars:      lookahead,
	}, nil
}

// Detect checks the current bar for a rejection with follow-through.
func (d *RejectionDetector) Detect(series *types.Series, sessionID string) ([]types.Structure, error) {
	bars := series.Bars
	if len(bars) < d.lookaheadBars+2 {
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
	reactionBody := curr.Body()
	if reactionBody.LessThan(d.minReactionBodyATR.Mul(atr)) {
		return nil, nil
	}

	// Follow-through: share of recent bars closing in the dominant direction.
	lookahead := bars[len(bars)-d.lookaheadBars:]
	bullishFT, bearishFT := 0, 0
	for _, b := range lookahead {
		if b.IsBullish() {
			bullishFT++
		} else if b.IsBearish() {
			bearishFT++
		}
	}
	maxFT := bullishFT
	if bearishFT > maxFT {
		maxFT = bearishFT
	}
	followThrough := decimal.NewFromInt(int64(maxFT)).Div(decimal.NewFromInt(int64(len(lookahead))))
	if followThrough.LessThan(decimal.NewFromFloat(0.3)) {
		return nil, nil
	}

	var direction types.Direction
	switch {
	case curr.IsBullish():
		direction = types.DirectionBullish
	case curr.IsBearish():
		direction = types.DirectionBearish
	default:
		return nil, nil
	}

	bodyATR := reactionBody.Div(atr)
	score := qualityScore(decimal.NewFromFloat(0.60), bodyATR, decimal.NewFromFloat(0.15))
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
			"reaction_body_atr": bodyATR.InexactFloat64(),
			"follow_through":    followThrough.InexactFloat64(),
			"atr":               atr.InexactFloat64(),
		},
	)

	d.markFired(len(bars))
	d.logger.Debug("uzr_detected",
		zap.String("direction", string(direction)),
		zap.Float64("reaction_body_atr", bodyATR.InexactFloat64()),
		zap.Float64("quality_score", score.InexactFloat64()))

	return []types.Structure{s}, nil
}
