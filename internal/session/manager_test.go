package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func sessionsCfg() types.SessionsConfig {
	return types.SessionsConfig{
		Windows: []types.SessionWindowConfig{
			{Name: "ASIA", StartUTC: "00:00", EndUTC: "07:59", MaxTradesPerHour: 1},
			{Name: "LONDON", StartUTC: "08:00", EndUTC: "12:59", MaxTradesPerHour: 2, ScoreBonus: 0.05},
			{Name: "NY_AM", StartUTC: "13:00", EndUTC: "16:59", MaxTradesPerHour: 2},
		},
		VolatilityPause: types.VolatilityPauseConfig{
			Enabled:            true,
			SpreadMultiplier:   3.0,
			ATRSpikeMultiplier: 2.5,
			LookbackBars:       20,
			MinPauseSeconds:    300,
		},
	}
}

func at(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func TestClassify(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)

	require.Equal(t, "ASIA", m.Classify(at(6, 30)))
	require.Equal(t, "LONDON", m.Classify(at(8, 0)))
	require.Equal(t, "NY_AM", m.Classify(at(16, 59)))
	require.Equal(t, "", m.Classify(at(22, 30)))
}

func TestRotationResetsCounters(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)

	_, rotated := m.UpdateAndRotate(at(6, 30))
	require.True(t, rotated)
	require.Equal(t, "ASIA", m.Current())

	m.Counters().DecisionsAttempted = 5
	m.Counters().FullSLHits = 1

	prev, rotated := m.UpdateAndRotate(at(8, 15))
	require.True(t, rotated)
	require.Equal(t, "ASIA", prev)
	require.Equal(t, "LONDON", m.Current())
	require.Equal(t, 0, m.Counters().DecisionsAttempted)
	require.Equal(t, 0, m.Counters().FullSLHits)

	_, rotated = m.UpdateAndRotate(at(8, 30))
	require.False(t, rotated)
}

func TestSessionID(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)

	m.UpdateAndRotate(at(9, 0))
	require.Equal(t, "LONDON_20260105", m.SessionID(at(9, 0)))
}

func TestVolatilityPauseSpreadTrigger(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)
	now := at(9, 0)

	// Spread 10 vs baseline 2 exceeds the 3x multiplier.
	triggered := m.CheckVolatility(now,
		decimal.NewFromInt(10), decimal.NewFromInt(2),
		decimal.Zero, decimal.Zero)
	require.True(t, triggered)
	require.True(t, m.Paused(now))
	require.True(t, m.Paused(now.Add(299*time.Second)))

	require.True(t, m.ResumeIfElapsed(now.Add(301*time.Second)))
	require.False(t, m.Paused(now.Add(301*time.Second)))
}

func TestVolatilityPauseATRTrigger(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)
	now := at(9, 0)

	triggered := m.CheckVolatility(now,
		decimal.Zero, decimal.Zero,
		decimal.RequireFromString("0.003"), decimal.RequireFromString("0.001"))
	require.True(t, triggered)
}

func TestVolatilityNoTriggerWithinBounds(t *testing.T) {
	m, err := NewManager(zap.NewNop(), sessionsCfg())
	require.NoError(t, err)
	now := at(9, 0)

	triggered := m.CheckVolatility(now,
		decimal.NewFromInt(4), decimal.NewFromInt(2),
		decimal.RequireFromString("0.001"), decimal.RequireFromString("0.001"))
	require.False(t, triggered)
	require.False(t, m.Paused(now))
}
