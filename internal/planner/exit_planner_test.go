package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func fxMeta() types.SymbolMeta {
	return types.SymbolMeta{
		Symbol:       "EURUSD",
		Point:        decimal.RequireFromString("0.00001"),
		Digits:       5,
		ContractSize: decimal.NewFromInt(100000),
		VolumeMin:    decimal.RequireFromString("0.01"),
		VolumeStep:   decimal.RequireFromString("0.01"),
		VolumeMax:    decimal.NewFromInt(100),
	}
}

func plannerCfg() types.SLTPConfig {
	return types.SLTPConfig{
		Enabled:            true,
		ExitPriority:       []string{"order_block", "fair_value_gap", "rejection", "atr"},
		ATRFallbackEnabled: true,
		SLATRBuffer:        0.15,
		TPExtensionATR:     1.0,
		MinBufferPips:      1.0,
		MaxBufferPips:      10.0,
		MinRRGate:          1.5,
	}
}

func fvgStructure(gapLow, gapHigh string) *types.Structure {
	return &types.Structure{
		Type:      types.StructureFairValueGap,
		Direction: types.DirectionBullish,
		LowPrice:  decimal.RequireFromString(gapLow),
		HighPrice: decimal.RequireFromString(gapHigh),
	}
}

// A bullish FVG entry whose structural TP lands below the entry: the planner
// ATR-extends the TP, fails the RR gate, then extends to min_rr * risk.
func TestPlanFVGBuyWithRRExtension(t *testing.T) {
	p := New(zap.NewNop(), plannerCfg(), fxMeta())

	entry := decimal.RequireFromString("1.10080")
	atr := decimal.RequireFromString("0.00100")
	nearest := Nearest{
		types.StructureFairValueGap: fvgStructure("1.10010", "1.10060"),
	}

	plan := p.Plan(types.DecisionBuy, entry, atr, nearest)
	require.NotNil(t, plan)
	require.Equal(t, "fair_value_gap", plan.Method)
	require.True(t, plan.StopLoss.Equal(decimal.RequireFromString("1.09995")), "sl=%s", plan.StopLoss)
	require.True(t, plan.TakeProfit.Equal(decimal.RequireFromString("1.10208")), "tp=%s", plan.TakeProfit)
	require.True(t, plan.ExpectedRR.GreaterThanOrEqual(decimal.RequireFromString("1.5")), "rr=%s", plan.ExpectedRR)

	// Pre-clamp requests are preserved for execution diagnostics.
	require.True(t, plan.SLRequested.Equal(decimal.RequireFromString("1.09995")))
	require.True(t, plan.TPRequested.Equal(decimal.RequireFromString("1.10180")), "tp_requested=%s", plan.TPRequested)
}

func TestPlanATRFallback(t *testing.T) {
	p := New(zap.NewNop(), plannerCfg(), fxMeta())

	entry := decimal.RequireFromString("1.10000")
	atr := decimal.RequireFromString("0.00100")

	plan := p.Plan(types.DecisionBuy, entry, atr, Nearest{})
	require.NotNil(t, plan)
	require.Equal(t, "atr", plan.Method)

	// SL buffer = clamp(0.15*atr) = 0.00015, TP extension = atr.
	require.True(t, plan.StopLoss.Equal(decimal.RequireFromString("1.09985")), "sl=%s", plan.StopLoss)
	require.True(t, plan.TakeProfit.Equal(decimal.RequireFromString("1.10100")), "tp=%s", plan.TakeProfit)
	require.True(t, plan.ExpectedRR.GreaterThanOrEqual(decimal.RequireFromString("1.5")))
}

func TestPlanSellSideOrdering(t *testing.T) {
	p := New(zap.NewNop(), plannerCfg(), fxMeta())

	entry := decimal.RequireFromString("1.10000")
	atr := decimal.RequireFromString("0.00100")

	plan := p.Plan(types.DecisionSell, entry, atr, Nearest{})
	require.NotNil(t, plan)
	require.True(t, plan.StopLoss.GreaterThan(entry))
	require.True(t, plan.TakeProfit.LessThan(entry))
}

func TestPlanMinStopDistancePushout(t *testing.T) {
	meta := fxMeta()
	meta.MinStopDistance = decimal.RequireFromString("0.00050")
	p := New(zap.NewNop(), plannerCfg(), meta)

	entry := decimal.RequireFromString("1.10000")
	atr := decimal.RequireFromString("0.00100")

	plan := p.Plan(types.DecisionBuy, entry, atr, Nearest{})
	require.NotNil(t, plan)
	require.True(t, entry.Sub(plan.StopLoss).GreaterThanOrEqual(meta.MinStopDistance),
		"sl distance %s below broker minimum", entry.Sub(plan.StopLoss))
	require.True(t, plan.Clamped)
}

func TestPlanRejectedWhenMaxStopDefeatsRRGate(t *testing.T) {
	meta := fxMeta()
	meta.MaxStopDistance = decimal.RequireFromString("0.00001")
	p := New(zap.NewNop(), plannerCfg(), meta)

	entry := decimal.RequireFromString("1.10000")
	atr := decimal.RequireFromString("0.00100")

	// Caps pin SL/TP one point from the entry (RR 1.0), and the RR-gate TP
	// extension is capped back to the same point; every priority fails and
	// the planner returns nil, which is a no-decision outcome.
	plan := p.Plan(types.DecisionBuy, entry, atr, Nearest{})
	require.Nil(t, plan)
}

func TestPlanRejectionZoneWrongSide(t *testing.T) {
	p := New(zap.NewNop(), types.SLTPConfig{
		Enabled:            true,
		ExitPriority:       []string{"rejection"},
		ATRFallbackEnabled: true,
		SLATRBuffer:        0.15,
		TPExtensionATR:     1.0,
		MinBufferPips:      1.0,
		MaxBufferPips:      10.0,
		MinRRGate:          1.5,
	}, fxMeta())

	entry := decimal.RequireFromString("1.09000")
	atr := decimal.RequireFromString("0.00100")
	nearest := Nearest{
		types.StructureRejection: &types.Structure{
			Type:      types.StructureRejection,
			LowPrice:  decimal.RequireFromString("1.10000"),
			HighPrice: decimal.RequireFromString("1.10100"),
		},
	}

	// BUY entry below the rejection zone: the zone cannot protect it.
	require.Nil(t, p.Plan(types.DecisionBuy, entry, atr, nearest))
}
