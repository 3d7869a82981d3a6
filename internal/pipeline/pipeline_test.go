package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/execution"
	"github.com/atlasfx/trading-engine/internal/gates"
	"github.com/atlasfx/trading-engine/internal/journal"
	"github.com/atlasfx/trading-engine/internal/onboarding"
	"github.com/atlasfx/trading-engine/internal/risk"
	"github.com/atlasfx/trading-engine/internal/session"
	"github.com/atlasfx/trading-engine/internal/structure"
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

func testConfig(t *testing.T) *types.EngineConfig {
	t.Helper()
	return &types.EngineConfig{
		Mode:      "dry_run",
		Symbols:   []string{"EURUSD"},
		Timeframe: "M15",
		Execution: types.ExecutionConfig{Enabled: true, MinRR: 1.5, MaxRequotes: 1},
		Risk: types.RiskConfig{
			PerTradePct:             0.25,
			PerSymbolOpenRiskCapPct: 1.0,
			DailySoftStopPct:        -1.0,
			DailyHardStopPct:        -2.0,
			MaxConsecutiveSendFails: 3,
			FailureCooldownSeconds:  300,
			MaxFullSLHitsPerSession: 2,
		},
		FTMO: types.FTMOConfig{Enabled: false},
		SLTP: types.SLTPConfig{
			Enabled:            true,
			ExitPriority:       []string{"order_block", "fair_value_gap", "rejection", "atr"},
			ATRFallbackEnabled: true,
			SLATRBuffer:        0.15,
			TPExtensionATR:     1.0,
			MinBufferPips:      1.0,
			MaxBufferPips:      10.0,
			MinRRGate:          1.5,
		},
		Sessions: types.SessionsConfig{
			Windows: []types.SessionWindowConfig{
				{Name: "LONDON", StartUTC: "08:00", EndUTC: "12:59"},
				{Name: "NY_AM", StartUTC: "13:00", EndUTC: "16:59"},
			},
		},
		HTF:      types.HTFBiasConfig{Enabled: false},
		Conflict: types.ConflictConfig{Enabled: true, LookbackBars: 12, BaseThreshold: 0.65, ThresholdBump: 0.10},
		Limits:   types.PositionLimitsConfig{MaxPositionsPerSymbol: 5, MaxPositionsPerDirection: 5},
		SessionFilter: types.SessionFilterConfig{Enabled: true, Mode: "log_only"},
		Detectors: types.DetectorsConfig{
			MinBars:      5,
			OrderBlock:   types.DetectorConfig{Enabled: true, ATRWindow: 14, DebounceBars: 3, DisplacementBodyATR: 0.5},
			FairValueGap: types.DetectorConfig{Enabled: true, ATRWindow: 14, DebounceBars: 3, MinGapATRMultiplier: 0.15},
		},
		Onboarding: types.OnboardingConfig{StatePath: t.TempDir() + "/onboarding.json"},
		Journal:    types.JournalConfig{Enabled: true, Dir: t.TempDir()},
	}
}

func buildPipeline(t *testing.T, cfg *types.EngineConfig) (*Pipeline, *broker.SimGateway) {
	t.Helper()
	logger := zap.NewNop()

	gw := broker.NewSimGateway(logger, decimal.NewFromInt(10000))
	gw.RegisterSymbol(fxMeta())
	gw.SetTick(types.Tick{
		Symbol: "EURUSD",
		Bid:    decimal.RequireFromString("1.10043"),
		Ask:    decimal.RequireFromString("1.10047"),
	})

	manager, err := structure.NewManager(logger, cfg.Detectors)
	require.NoError(t, err)
	sessions, err := session.NewManager(logger, cfg.Sessions)
	require.NoError(t, err)
	filter := session.NewFilter(logger, cfg.SessionFilter)
	guards := risk.NewGuards(logger, cfg.Risk, cfg.FTMO)
	ledger := risk.NewLedger()
	onboardingMgr, err := onboarding.NewManager(logger, cfg.Onboarding)
	require.NoError(t, err)
	htf := gates.NewHTFBias(logger, gw, cfg.HTF)
	conflict := gates.NewConflictResolver(logger, cfg.Conflict)
	chain := gates.NewChain(logger, gw, guards, ledger, cfg.Thresholds, cfg.Limits, cfg.Risk, false, conflict, htf, filter)
	executor := execution.New(logger, gw, execution.ModeDryRun, cfg.Execution, cfg.StopGuard, cfg.InvalidStops)
	tradeJournal := journal.New(logger, cfg.Journal)

	meta := map[string]types.SymbolMeta{"EURUSD": fxMeta()}
	return New(logger, cfg, gw, manager, sessions, filter, guards, onboardingMgr, chain, executor, ledger, tradeJournal, meta), gw
}

// flatBars returns n identical-range bars for seeding ATR state.
func flatBars(n int, startIdx int) []types.Bar {
	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, n)
	for i := 0; i < n; i++ {
		idx := startIdx + i
		bars = append(bars, types.Bar{
			Open:      decimal.RequireFromString("1.10000"),
			High:      decimal.RequireFromString("1.10010"),
			Low:       decimal.RequireFromString("1.09990"),
			Close:     decimal.RequireFromString("1.10000"),
			Volume:    decimal.NewFromInt(1000),
			Timestamp: base.Add(time.Duration(idx) * 15 * time.Minute),
		})
	}
	return bars
}

// patternBars ends in a 3-bar bullish FVG with a displacement bar, firing
// both the order-block and FVG detectors.
func patternBars(t *testing.T, startIdx int) []types.Bar {
	t.Helper()
	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	mk := func(o, h, l, c string, i int) types.Bar {
		b := types.Bar{
			Open:      decimal.RequireFromString(o),
			High:      decimal.RequireFromString(h),
			Low:       decimal.RequireFromString(l),
			Close:     decimal.RequireFromString(c),
			Volume:    decimal.NewFromInt(1000),
			Timestamp: base.Add(time.Duration(startIdx+i) * 15 * time.Minute),
		}
		require.NoError(t, b.Validate())
		return b
	}
	return []types.Bar{
		mk("1.10000", "1.10010", "1.09995", "1.10005", 0),
		mk("1.10005", "1.10030", "1.10000", "1.10025", 1),
		mk("1.10035", "1.10050", "1.10030", "1.10045", 2),
	}
}

func TestPipelineProducesAtMostOneDecisionPerBar(t *testing.T) {
	cfg := testConfig(t)
	p, _ := buildPipeline(t, cfg)
	ctx := context.Background()

	require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))

	var total int
	for _, bar := range patternBars(t, 20) {
		decisions := p.ProcessBar(ctx, "EURUSD", bar)
		require.LessOrEqual(t, len(decisions), 1, "dedup keeps at most one decision per bar")
		total += len(decisions)
	}
	require.Greater(t, total, 0, "the pattern must produce at least one decision")

	stats := p.Stats()
	require.Equal(t, 3, stats.ProcessedBars)
	require.Greater(t, stats.OrdersExecuted, 0, "dry-run executions count as orders")
}

func TestPipelineDecisionInvariants(t *testing.T) {
	cfg := testConfig(t)
	p, _ := buildPipeline(t, cfg)
	ctx := context.Background()

	require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))

	for _, bar := range patternBars(t, 20) {
		for _, d := range p.ProcessBar(ctx, "EURUSD", bar) {
			require.NoError(t, d.Validate())
			if d.Type == types.DecisionBuy {
				require.True(t, d.StopLoss.LessThan(d.Entry))
				require.True(t, d.TakeProfit.GreaterThan(d.Entry))
			}
			require.True(t, d.RiskReward.GreaterThanOrEqual(decimal.RequireFromString("1.5")),
				"rr=%s below the planner gate", d.RiskReward)
			require.NotEmpty(t, d.StructureID)
			require.Len(t, d.StructureID, 16)
		}
	}
}

func TestPipelineDeterminism(t *testing.T) {
	run := func() []string {
		cfg := testConfig(t)
		p, _ := buildPipeline(t, cfg)
		ctx := context.Background()
		require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))

		var ids []string
		for _, bar := range patternBars(t, 20) {
			for _, d := range p.ProcessBar(ctx, "EURUSD", bar) {
				ids = append(ids, fmt.Sprintf("%s|%s|%s|%s|%s",
					d.StructureID, d.Type, d.Entry, d.StopLoss, d.TakeProfit))
			}
		}
		return ids
	}

	require.Equal(t, run(), run(), "identical inputs must produce identical decisions")
}

func TestPipelineSkipsWhenMarketClosed(t *testing.T) {
	cfg := testConfig(t)
	p, gw := buildPipeline(t, cfg)
	ctx := context.Background()

	require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))
	gw.SetMarketOpen(false)

	bars := patternBars(t, 20)
	require.Empty(t, p.ProcessBar(ctx, "EURUSD", bars[0]))
	require.Equal(t, 0, p.Stats().ProcessedBars, "closed-market bars skip before counting")
}

func TestPipelineDailyStopIdempotence(t *testing.T) {
	cfg := testConfig(t)
	p, gw := buildPipeline(t, cfg)
	ctx := context.Background()

	require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))

	// First bar establishes the baseline, then equity collapses past the
	// hard stop: no order may execute for the rest of the day.
	bars := patternBars(t, 20)
	p.ProcessBar(ctx, "EURUSD", bars[0])
	gw.SetEquity(decimal.NewFromInt(9700))

	for _, bar := range bars[1:] {
		p.ProcessBar(ctx, "EURUSD", bar)
	}
	// Orders executed on the first bar (baseline equity) are allowed; none
	// after the hard stop.
	executedAfterStop := p.Stats().OrdersExecuted
	p.ProcessBar(ctx, "EURUSD", flatBars(1, 23)[0])
	require.Equal(t, executedAfterStop, p.Stats().OrdersExecuted)
}

func TestPipelineRejectsNonMonotonicBar(t *testing.T) {
	cfg := testConfig(t)
	p, _ := buildPipeline(t, cfg)
	ctx := context.Background()

	require.NoError(t, p.Seed("EURUSD", flatBars(20, 0)))

	stale := flatBars(1, 0)[0] // timestamp before the seeded tail
	require.Empty(t, p.ProcessBar(ctx, "EURUSD", stale))
	require.Equal(t, 1, p.Stats().ProcessedBars, "the bar counter advances even for rejected bars")
}
