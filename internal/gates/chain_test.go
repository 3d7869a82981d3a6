package gates

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/risk"
	"github.com/atlasfx/trading-engine/internal/session"
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

func testChain(t *testing.T, gw broker.Gateway, limits types.PositionLimitsConfig, thresholds map[string]float64, htfCfg types.HTFBiasConfig) (*Chain, *risk.Guards) {
	t.Helper()
	logger := zap.NewNop()
	guards := risk.NewGuards(logger, types.RiskConfig{
		DailySoftStopPct: -1.0,
		DailyHardStopPct: -2.0,
	}, types.FTMOConfig{})
	ledger := risk.NewLedger()
	conflict := NewConflictResolver(logger, types.ConflictConfig{
		Enabled:       true,
		LookbackBars:  12,
		BaseThreshold: 0.65,
		ThresholdBump: 0.10,
	})
	htf := NewHTFBias(logger, gw, htfCfg)
	filter := session.NewFilter(logger, types.SessionFilterConfig{Enabled: true, Mode: "log_only"})

	chain := NewChain(logger, gw, guards, ledger, thresholds, limits,
		types.RiskConfig{}, false, conflict, htf, filter)
	return chain, guards
}

func buyInput(confidence string, barIndex int) Input {
	return Input{
		Decision: types.Decision{
			Type:       types.DecisionBuy,
			Symbol:     "EURUSD",
			Entry:      decimal.RequireFromString("1.10080"),
			StopLoss:   decimal.RequireFromString("1.09995"),
			TakeProfit: decimal.RequireFromString("1.10208"),
			Confidence: decimal.RequireFromString(confidence),
		},
		StructureType: types.StructureFairValueGap,
		Direction:     types.DirectionBullish,
		Meta:          fxMeta(),
		BarIndex:      barIndex,
		Now:           time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestChainAllowsCleanDecision(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	chain, _ := testChain(t, gw, types.PositionLimitsConfig{MaxPositionsPerSymbol: 2, MaxPositionsPerDirection: 2}, nil, types.HTFBiasConfig{})

	res := chain.Evaluate(context.Background(), buyInput("0.75", 10))
	require.True(t, res.Allowed)
	require.Empty(t, res.BlockEvent)
	require.Equal(t, "London", res.SessionName)
}

func TestChainBlocksOnPositionLimit(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	gw.RegisterSymbol(fxMeta())
	gw.SetTick(types.Tick{
		Symbol: "EURUSD",
		Bid:    decimal.RequireFromString("1.10078"),
		Ask:    decimal.RequireFromString("1.10082"),
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := gw.OrderSend(ctx, types.OrderRequest{
			Action: types.ActionDeal,
			Symbol: "EURUSD",
			Type:   types.DecisionBuy,
			Volume: decimal.RequireFromString("0.10"),
		})
		require.NoError(t, err)
	}

	chain, _ := testChain(t, gw, types.PositionLimitsConfig{MaxPositionsPerSymbol: 2, MaxPositionsPerDirection: 3}, nil, types.HTFBiasConfig{})
	res := chain.Evaluate(ctx, buyInput("0.90", 10))
	require.False(t, res.Allowed)
	require.Equal(t, "trade_blocked_by_position_limit", res.BlockEvent)
}

func TestChainBlocksOnSameDirectionLimit(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	gw.RegisterSymbol(fxMeta())
	gw.SetTick(types.Tick{
		Symbol: "EURUSD",
		Bid:    decimal.RequireFromString("1.10078"),
		Ask:    decimal.RequireFromString("1.10082"),
	})
	ctx := context.Background()
	_, err := gw.OrderSend(ctx, types.OrderRequest{
		Action: types.ActionDeal,
		Symbol: "EURUSD",
		Type:   types.DecisionBuy,
		Volume: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)

	chain, _ := testChain(t, gw, types.PositionLimitsConfig{MaxPositionsPerSymbol: 5, MaxPositionsPerDirection: 1}, nil, types.HTFBiasConfig{})
	res := chain.Evaluate(ctx, buyInput("0.90", 10))
	require.False(t, res.Allowed)
	require.Equal(t, "trade_blocked_by_position_limit", res.BlockEvent)
}

func TestChainBlocksOnStructureThreshold(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	chain, _ := testChain(t, gw, types.PositionLimitsConfig{},
		map[string]float64{"fair_value_gap": 0.80}, types.HTFBiasConfig{})

	res := chain.Evaluate(context.Background(), buyInput("0.75", 10))
	require.False(t, res.Allowed)
	require.Equal(t, "trade_blocked_by_structure_threshold", res.BlockEvent)
}

func TestChainDirectionalThresholdTakesPrecedence(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	chain, _ := testChain(t, gw, types.PositionLimitsConfig{},
		map[string]float64{
			"fair_value_gap":         0.90,
			"fair_value_gap_bullish": 0.70,
		}, types.HTFBiasConfig{})

	res := chain.Evaluate(context.Background(), buyInput("0.75", 10))
	require.True(t, res.Allowed)
}

func TestChainBlocksAfterDailyStop(t *testing.T) {
	gw := broker.NewSimGateway(zap.NewNop(), decimal.NewFromInt(10000))
	chain, guards := testChain(t, gw, types.PositionLimitsConfig{}, nil, types.HTFBiasConfig{})

	guards.RolloverIfNewDay(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), decimal.NewFromInt(10000))
	guards.CheckDailyStops(decimal.NewFromInt(9895))

	res := chain.Evaluate(context.Background(), buyInput("0.95", 10))
	require.False(t, res.Allowed)
	require.Equal(t, "trade_blocked_by_daily_stop", res.BlockEvent)
}

func TestConflictResolver(t *testing.T) {
	c := NewConflictResolver(zap.NewNop(), types.ConflictConfig{
		Enabled:       true,
		LookbackBars:  12,
		BaseThreshold: 0.65,
		ThresholdBump: 0.10,
	})

	blocked, _ := c.Check("EURUSD", types.DirectionBullish, decimal.RequireFromString("0.70"), 10)
	require.False(t, blocked)

	// Opposing signal inside the window needs the bumped threshold.
	blocked, required := c.Check("EURUSD", types.DirectionBearish, decimal.RequireFromString("0.70"), 12)
	require.True(t, blocked)
	require.True(t, required.Equal(decimal.RequireFromString("0.75")))

	blocked, _ = c.Check("EURUSD", types.DirectionBearish, decimal.RequireFromString("0.80"), 13)
	require.False(t, blocked)

	// Far outside the window the old signal no longer conflicts.
	blocked, _ = c.Check("EURUSD", types.DirectionBullish, decimal.RequireFromString("0.70"), 40)
	require.False(t, blocked)
}
