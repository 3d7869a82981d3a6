package risk

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

func TestSizeHappyPath(t *testing.T) {
	s := NewSizer(zap.NewNop())

	res := s.Size(SizeRequest{
		Equity:         decimal.NewFromInt(10000),
		Entry:          decimal.RequireFromString("1.10080"),
		StopLoss:       decimal.RequireFromString("1.09995"),
		Meta:           fxMeta(),
		PerTradePct:    decimal.RequireFromString("0.25"),
		OpenRiskCapPct: decimal.RequireFromString("1.0"),
		OpenRiskBefore: decimal.Zero,
	})

	require.Equal(t, RejectNone, res.Reject)
	require.True(t, res.StopDistancePts.Equal(decimal.NewFromInt(85)), "stop_pts=%s", res.StopDistancePts)
	require.True(t, res.Volume.Equal(decimal.RequireFromString("0.29")), "volume=%s", res.Volume)
	require.True(t, res.NewTradeRisk.Equal(decimal.RequireFromString("24.65")), "risk=%s", res.NewTradeRisk)

	// Sizing invariant: new trade risk never exceeds the per-trade budget.
	require.True(t, res.NewTradeRisk.LessThanOrEqual(res.RiskBudget))
}

func TestSizeRejectsBelowHardFloor(t *testing.T) {
	s := NewSizer(zap.NewNop())
	meta := fxMeta()
	meta.SLHardFloorPts = 100

	res := s.Size(SizeRequest{
		Equity:         decimal.NewFromInt(10000),
		Entry:          decimal.RequireFromString("1.10080"),
		StopLoss:       decimal.RequireFromString("1.10060"), // 20 points
		Meta:           meta,
		PerTradePct:    decimal.RequireFromString("0.25"),
		OpenRiskCapPct: decimal.RequireFromString("1.0"),
	})
	require.Equal(t, RejectRiskTooSmall, res.Reject)
}

func TestSizeRejectsZeroDistance(t *testing.T) {
	s := NewSizer(zap.NewNop())

	res := s.Size(SizeRequest{
		Equity:         decimal.NewFromInt(10000),
		Entry:          decimal.RequireFromString("1.10080"),
		StopLoss:       decimal.RequireFromString("1.10080"),
		Meta:           fxMeta(),
		PerTradePct:    decimal.RequireFromString("0.25"),
		OpenRiskCapPct: decimal.RequireFromString("1.0"),
	})
	require.Equal(t, RejectRiskTooSmall, res.Reject)
}

func TestSizeRejectsBelowMinVolume(t *testing.T) {
	s := NewSizer(zap.NewNop())

	// Tiny equity cannot afford the minimum lot at this stop distance.
	res := s.Size(SizeRequest{
		Equity:         decimal.NewFromInt(10),
		Entry:          decimal.RequireFromString("1.10080"),
		StopLoss:       decimal.RequireFromString("1.09995"),
		Meta:           fxMeta(),
		PerTradePct:    decimal.RequireFromString("0.25"),
		OpenRiskCapPct: decimal.RequireFromString("1.0"),
	})
	require.Equal(t, RejectRiskTooSmall, res.Reject)
}

func TestSizeRejectsWhenCapExceeded(t *testing.T) {
	s := NewSizer(zap.NewNop())

	res := s.Size(SizeRequest{
		Equity:         decimal.NewFromInt(10000),
		Entry:          decimal.RequireFromString("1.10080"),
		StopLoss:       decimal.RequireFromString("1.09995"),
		Meta:           fxMeta(),
		PerTradePct:    decimal.RequireFromString("0.25"),
		OpenRiskCapPct: decimal.RequireFromString("1.0"), // cap budget $100
		OpenRiskBefore: decimal.NewFromInt(80),           // 80 + 24.65 > 100
	})
	require.Equal(t, RejectRiskCapHit, res.Reject)
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	require.True(t, l.Open("EURUSD").IsZero())

	l.Add("EURUSD", decimal.NewFromInt(25))
	l.Add("GBPUSD", decimal.NewFromInt(10))
	require.True(t, l.Open("EURUSD").Equal(decimal.NewFromInt(25)))
	require.True(t, l.Total().Equal(decimal.NewFromInt(35)))

	l.Release("EURUSD", decimal.NewFromInt(30)) // clamps at zero
	require.True(t, l.Open("EURUSD").IsZero())
	require.True(t, l.Total().Equal(decimal.NewFromInt(10)))
}
