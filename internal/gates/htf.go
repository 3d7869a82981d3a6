// Package gates provides the ordered pre-execution gate chain: daily stop,
// margin, structure thresholds, position limits, conflict resolution,
// higher-timeframe bias, and the session filter.
package gates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/indicators"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// Bias is the higher-timeframe directional read.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
	BiasUnknown Bias = "unknown"
)

// Alignment relates a decision's direction to the HTF bias.
type Alignment string

const (
	AlignmentAligned Alignment = "aligned"
	AlignmentCounter Alignment = "counter"
	AlignmentNeutral Alignment = "neutral"
)

// HTFSnapshot is the bias context captured at evaluation time; it travels
// into the journal entry.
type HTFSnapshot struct {
	Bias        Bias            `json:"bias"`
	Alignment   Alignment       `json:"alignment"`
	DistanceATR decimal.Decimal `json:"distanceAtr"`
	ClearTrend  bool            `json:"clearTrend"`
}

type htfReading struct {
	ema       decimal.Decimal
	atr       decimal.Decimal
	close     decimal.Decimal
	fetchedAt time.Time
	valid     bool
}

// HTFBias evaluates higher-timeframe bias with a short per-symbol cache to
// avoid refetching HTF rates on every bar.
type HTFBias struct {
	logger  *zap.Logger
	gateway broker.Gateway
	cfg     types.HTFBiasConfig

	neutralMult decimal.Decimal
	clearMult   decimal.Decimal
	ttl         time.Duration
	elite       map[types.StructureType]bool

	cache map[string]htfReading
}

// NewHTFBias builds the evaluator.
func NewHTFBias(logger *zap.Logger, gateway broker.Gateway, cfg types.HTFBiasConfig) *HTFBias {
	elite := make(map[types.StructureType]bool, len(cfg.EliteStructures))
	for _, s := range cfg.EliteStructures {
		elite[types.StructureType(s)] = true
	}
	// Rejections are never elite-override eligible.
	delete(elite, types.StructureRejection)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HTFBias{
		logger:      logger.Named("htf-bias"),
		gateway:     gateway,
		cfg:         cfg,
		neutralMult: decimal.NewFromFloat(cfg.NeutralZoneATRMult),
		clearMult:   decimal.NewFromFloat(cfg.HardBlockClearTrendMult),
		ttl:         ttl,
		elite:       elite,
		cache:       make(map[string]htfReading),
	}
}

// reading returns the cached EMA/ATR/close for a symbol, refetching from the
// gateway when the cache entry is stale.
func (h *HTFBias) reading(ctx context.Context, symbol string, now time.Time) htfReading {
	if r, ok := h.cache[symbol]; ok && now.Sub(r.fetchedAt) < h.ttl {
		return r
	}

	lookback := h.cfg.LookbackBars
	if lookback <= 0 {
		lookback = 100
	}
	bars, err := h.gateway.RatesFrom(ctx, symbol, h.cfg.Timeframe, lookback)
	r := htfReading{fetchedAt: now}
	if err != nil || len(bars) == 0 {
		if err != nil {
			h.logger.Warn("htf_rates_unavailable", zap.String("symbol", symbol), zap.Error(err))
		}
		h.cache[symbol] = r
		return r
	}

	ema, okEMA := indicators.EMA(bars, h.cfg.EMAPeriod)
	atr, okATR := indicators.ATR(bars, h.cfg.ATRPeriod)
	if !okEMA || !okATR || atr.IsZero() {
		h.cache[symbol] = r
		return r
	}

	r.ema = ema
	r.atr = atr
	r.close = bars[len(bars)-1].Close
	r.valid = true
	h.cache[symbol] = r
	return r
}

// Evaluate scores a decision against the HTF bias. blocked is true when the
// configured hard-block mode rejects the counter-trend trade; adjusted is the
// bias-adjusted confidence either way.
func (h *HTFBias) Evaluate(ctx context.Context, d types.Decision, structureType types.StructureType, now time.Time) (snapshot HTFSnapshot, adjusted decimal.Decimal, blocked bool) {
	adjusted = d.Confidence
	snapshot = HTFSnapshot{Bias: BiasUnknown, Alignment: AlignmentNeutral}

	if !h.cfg.Enabled {
		return snapshot, adjusted, false
	}

	r := h.reading(ctx, d.Symbol, now)
	if !r.valid {
		return snapshot, adjusted, false
	}

	zone := h.neutralMult.Mul(r.atr)
	distance := r.close.Sub(r.ema).Abs()
	snapshot.DistanceATR = distance.Div(r.atr)

	switch {
	case r.close.GreaterThan(r.ema.Add(zone)):
		snapshot.Bias = BiasBullish
	case r.close.LessThan(r.ema.Sub(zone)):
		snapshot.Bias = BiasBearish
	default:
		snapshot.Bias = BiasNeutral
	}

	if snapshot.Bias == BiasNeutral {
		return snapshot, adjusted, false
	}

	wantBias := BiasBullish
	if d.Type == types.DecisionSell {
		wantBias = BiasBearish
	}

	clearThreshold := h.clearMult.Mul(zone)
	snapshot.ClearTrend = distance.GreaterThan(clearThreshold)

	if snapshot.Bias == wantBias {
		snapshot.Alignment = AlignmentAligned
		adjusted = d.Confidence.Add(decimal.NewFromFloat(h.cfg.BiasBonus))
		if adjusted.GreaterThan(decimal.NewFromInt(1)) {
			adjusted = decimal.NewFromInt(1)
		}
		return snapshot, adjusted, false
	}

	snapshot.Alignment = AlignmentCounter
	adjusted = d.Confidence.Sub(decimal.NewFromFloat(h.cfg.BiasPenalty))
	if adjusted.Sign() < 0 {
		adjusted = decimal.Zero
	}

	// Elite override: strong original confidence on an elite structure may
	// trade counter-trend, but never into a clear trend.
	override := h.elite[structureType] &&
		d.Confidence.GreaterThanOrEqual(decimal.NewFromFloat(h.cfg.CountertrendOverride)) &&
		!snapshot.ClearTrend

	switch h.cfg.HardBlock {
	case "always":
		blocked = !override
	case "conditional":
		blocked = snapshot.ClearTrend
	default: // never
		blocked = false
	}

	if h.cfg.LogBiasChecks {
		h.logger.Info("htf_bias_checked",
			zap.String("symbol", d.Symbol),
			zap.String("bias", string(snapshot.Bias)),
			zap.String("alignment", string(snapshot.Alignment)),
			zap.String("distance_atr", snapshot.DistanceATR.String()),
			zap.Bool("is_clear_trend", snapshot.ClearTrend),
			zap.Bool("override", override),
			zap.Bool("blocked", blocked))
	}

	return snapshot, adjusted, blocked
}
