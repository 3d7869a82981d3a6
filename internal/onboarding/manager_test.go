package onboarding

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func testCfg(t *testing.T) types.OnboardingConfig {
	t.Helper()
	return types.OnboardingConfig{
		StatePath: filepath.Join(t.TempDir(), "onboarding_state.json"),
		Symbols: map[string]types.OnboardingSymbolConfig{
			"GBPUSD": {
				InitialState:               StateObserveOnly,
				ProbationMinSessions:       1,
				ProbationMinTrades:         2,
				MaxValidationErrors:        0,
				RiskCapMultiplierProbation: 0.5,
			},
		},
	}
}

func buyDecision(symbol string) types.Decision {
	return types.Decision{
		Type:       types.DecisionBuy,
		Symbol:     symbol,
		Entry:      decimal.RequireFromString("1.10080"),
		StopLoss:   decimal.RequireFromString("1.09995"),
		TakeProfit: decimal.RequireFromString("1.10208"),
	}
}

func TestDefaultsArePromoted(t *testing.T) {
	m, err := NewManager(zap.NewNop(), testCfg(t))
	require.NoError(t, err)

	st := m.GetState("EURUSD")
	require.Equal(t, StatePromoted, st.State)
	require.True(t, m.ShouldExecute("EURUSD"))
}

func TestObserveOnlyDoesNotExecute(t *testing.T) {
	m, err := NewManager(zap.NewNop(), testCfg(t))
	require.NoError(t, err)

	require.False(t, m.ShouldExecute("GBPUSD"))
}

func TestPromotionAfterThresholds(t *testing.T) {
	m, err := NewManager(zap.NewNop(), testCfg(t))
	require.NoError(t, err)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	m.RecordDecisions("GBPUSD", []types.Decision{buyDecision("GBPUSD")}, "LONDON_20260105", 0, now)
	require.False(t, m.ShouldExecute("GBPUSD"), "one trade is below the probation minimum")

	m.RecordDecisions("GBPUSD", []types.Decision{buyDecision("GBPUSD")}, "LONDON_20260105", 0, now)
	st := m.GetState("GBPUSD")
	require.Equal(t, StatePromoted, st.State)
	require.Equal(t, 1, st.SessionsSeen, "the same session counts once")
	require.Equal(t, 2, st.TradesSeen)
	require.NotEmpty(t, st.LastPromotionTS)
	require.True(t, m.ShouldExecute("GBPUSD"))
}

func TestValidationErrorsBlockPromotion(t *testing.T) {
	m, err := NewManager(zap.NewNop(), testCfg(t))
	require.NoError(t, err)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	m.RecordDecisions("GBPUSD", []types.Decision{buyDecision("GBPUSD"), buyDecision("GBPUSD")}, "LONDON_20260105", 1, now)
	require.Equal(t, StateObserveOnly, m.GetState("GBPUSD").State)
}

func TestProbationOverridesTightenCap(t *testing.T) {
	m, err := NewManager(zap.NewNop(), testCfg(t))
	require.NoError(t, err)

	base := types.RiskConfig{PerTradePct: 0.25, PerSymbolOpenRiskCapPct: 1.0}

	derived := m.ApplyProbationOverrides("GBPUSD", base)
	require.InDelta(t, 0.5, derived.PerSymbolOpenRiskCapPct, 1e-9)
	require.InDelta(t, 0.25, derived.PerTradePct, 1e-9, "per-trade risk is never tightened")
	require.InDelta(t, 1.0, base.PerSymbolOpenRiskCapPct, 1e-9, "input must not be mutated")

	// Promoted symbols keep the base caps.
	derived = m.ApplyProbationOverrides("EURUSD", base)
	require.InDelta(t, 1.0, derived.PerSymbolOpenRiskCapPct, 1e-9)
}

func TestStateRoundTrip(t *testing.T) {
	cfg := testCfg(t)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	m1, err := NewManager(zap.NewNop(), cfg)
	require.NoError(t, err)
	m1.RecordDecisions("GBPUSD", []types.Decision{buyDecision("GBPUSD")}, "LONDON_20260105", 0, now)

	first, err := os.ReadFile(cfg.StatePath)
	require.NoError(t, err)

	// Reload and rewrite: the serialized form must be bit-identical.
	m2, err := NewManager(zap.NewNop(), cfg)
	require.NoError(t, err)
	require.Equal(t, m1.GetState("GBPUSD"), m2.GetState("GBPUSD"))

	m2.RecordDecisions("GBPUSD", nil, "", 0, now)
	second, err := os.ReadFile(cfg.StatePath)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}
