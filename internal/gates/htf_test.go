package gates

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func htfCfg() types.HTFBiasConfig {
	return types.HTFBiasConfig{
		Enabled:                 true,
		Timeframe:               "H1",
		EMAPeriod:               50,
		ATRPeriod:               14,
		NeutralZoneATRMult:      0.5,
		BiasBonus:               0.05,
		BiasPenalty:             0.05,
		CountertrendOverride:    0.85,
		HardBlock:               "conditional",
		HardBlockClearTrendMult: 1.5,
		CacheTTLSeconds:         300,
		EliteStructures:         []string{"order_block", "fair_value_gap", "engulfing"},
	}
}

// seedReading primes the per-symbol cache so tests control the HTF state
// without fabricating a bar series with exact indicator values.
func seedReading(h *HTFBias, symbol string, ema, atr, close string, now time.Time) {
	h.cache[symbol] = htfReading{
		ema:       decimal.RequireFromString(ema),
		atr:       decimal.RequireFromString(atr),
		close:     decimal.RequireFromString(close),
		fetchedAt: now,
		valid:     true,
	}
}

func sellDecision(confidence string) types.Decision {
	return types.Decision{
		Type:       types.DecisionSell,
		Symbol:     "EURUSD",
		Confidence: decimal.RequireFromString(confidence),
	}
}

func TestHTFConditionalBlocksCounterTrendInClearTrend(t *testing.T) {
	h := NewHTFBias(zap.NewNop(), nil, htfCfg())
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	// close 1.10180 sits above ema+zone (1.10050): bullish bias. The SELL is
	// counter, and distance 0.00180 > clear threshold 0.00075.
	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10180", now)

	snapshot, adjusted, blocked := h.Evaluate(context.Background(), sellDecision("0.70"), types.StructureSweep, now)
	require.True(t, blocked)
	require.Equal(t, BiasBullish, snapshot.Bias)
	require.Equal(t, AlignmentCounter, snapshot.Alignment)
	require.True(t, snapshot.ClearTrend)
	require.True(t, adjusted.Equal(decimal.RequireFromString("0.65")), "adjusted=%s", adjusted)
}

func TestHTFConditionalAllowsCounterTrendOutsideClearTrend(t *testing.T) {
	h := NewHTFBias(zap.NewNop(), nil, htfCfg())
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	// Bias is bullish but the distance (0.00060) stays inside the clear-trend
	// threshold, so conditional mode only applies the penalty.
	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10060", now)

	snapshot, adjusted, blocked := h.Evaluate(context.Background(), sellDecision("0.70"), types.StructureSweep, now)
	require.False(t, blocked)
	require.Equal(t, AlignmentCounter, snapshot.Alignment)
	require.False(t, snapshot.ClearTrend)
	require.True(t, adjusted.LessThan(decimal.RequireFromString("0.70")))
}

func TestHTFAlignedGetsBonus(t *testing.T) {
	h := NewHTFBias(zap.NewNop(), nil, htfCfg())
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.09800", now) // bearish bias

	snapshot, adjusted, blocked := h.Evaluate(context.Background(), sellDecision("0.70"), types.StructureSweep, now)
	require.False(t, blocked)
	require.Equal(t, AlignmentAligned, snapshot.Alignment)
	require.True(t, adjusted.Equal(decimal.RequireFromString("0.75")), "adjusted=%s", adjusted)
}

func TestHTFNeutralZonePasses(t *testing.T) {
	h := NewHTFBias(zap.NewNop(), nil, htfCfg())
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10020", now) // inside the zone

	snapshot, adjusted, blocked := h.Evaluate(context.Background(), sellDecision("0.70"), types.StructureSweep, now)
	require.False(t, blocked)
	require.Equal(t, BiasNeutral, snapshot.Bias)
	require.True(t, adjusted.Equal(decimal.RequireFromString("0.70")))
}

func TestHTFAlwaysModeEliteOverride(t *testing.T) {
	cfg := htfCfg()
	cfg.HardBlock = "always"
	h := NewHTFBias(zap.NewNop(), nil, cfg)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	// Counter-trend but not a clear trend: an elite structure with strong
	// original confidence may override the block.
	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10060", now)

	_, _, blocked := h.Evaluate(context.Background(), sellDecision("0.90"), types.StructureOrderBlock, now)
	require.False(t, blocked)

	// The same confidence on a non-elite structure stays blocked.
	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10060", now)
	_, _, blocked = h.Evaluate(context.Background(), sellDecision("0.90"), types.StructureSweep, now)
	require.True(t, blocked)
}

func TestHTFRejectionNeverElite(t *testing.T) {
	cfg := htfCfg()
	cfg.HardBlock = "always"
	cfg.EliteStructures = []string{"order_block", "rejection"}
	h := NewHTFBias(zap.NewNop(), nil, cfg)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	seedReading(h, "EURUSD", "1.10000", "0.00100", "1.10060", now)

	_, _, blocked := h.Evaluate(context.Background(), sellDecision("0.95"), types.StructureRejection, now)
	require.True(t, blocked)
}

func TestHTFDisabledPassesThrough(t *testing.T) {
	cfg := htfCfg()
	cfg.Enabled = false
	h := NewHTFBias(zap.NewNop(), nil, cfg)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	snapshot, adjusted, blocked := h.Evaluate(context.Background(), sellDecision("0.70"), types.StructureSweep, now)
	require.False(t, blocked)
	require.Equal(t, BiasUnknown, snapshot.Bias)
	require.True(t, adjusted.Equal(decimal.RequireFromString("0.70")))
}
