package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: dry_run
symbols: [EURUSD]
`)
	cfg, err := Load(zap.NewNop(), path)
	require.NoError(t, err)

	require.Equal(t, "dry_run", cfg.Mode)
	require.Equal(t, "M15", cfg.Timeframe)
	require.InDelta(t, 1.5, cfg.SLTP.MinRRGate, 1e-9)
	require.Equal(t, []string{"order_block", "fair_value_gap", "rejection", "atr"}, cfg.SLTP.ExitPriority)
	require.InDelta(t, -1.0, cfg.Risk.DailySoftStopPct, 1e-9)
	require.Equal(t, 50, cfg.StopGuard.DefaultSymbolFloorPts)
	require.True(t, cfg.InvalidStops.EnableAdaptiveRetry)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, `
mode: yolo
symbols: [EURUSD]
`)
	_, err := Load(zap.NewNop(), path)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "mode", cfgErr.Field)
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	path := writeConfig(t, `
mode: dry_run
symbols: []
`)
	_, err := Load(zap.NewNop(), path)
	require.Error(t, err)
}

func TestValidateRejectsPositiveDailyStop(t *testing.T) {
	cfg := &types.EngineConfig{
		Mode:    "dry_run",
		Symbols: []string{"EURUSD"},
		Risk: types.RiskConfig{
			PerTradePct:             0.25,
			PerSymbolOpenRiskCapPct: 1.0,
			DailySoftStopPct:        1.0, // must be negative
			DailyHardStopPct:        -2.0,
		},
		SLTP: types.SLTPConfig{MinRRGate: 1.5, MaxBufferPips: 10},
	}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsBadSessionWindow(t *testing.T) {
	cfg := &types.EngineConfig{
		Mode:    "dry_run",
		Symbols: []string{"EURUSD"},
		Risk: types.RiskConfig{
			PerTradePct:             0.25,
			PerSymbolOpenRiskCapPct: 1.0,
			DailySoftStopPct:        -1.0,
			DailyHardStopPct:        -2.0,
		},
		SLTP: types.SLTPConfig{MinRRGate: 1.5, MaxBufferPips: 10},
		Sessions: types.SessionsConfig{
			Windows: []types.SessionWindowConfig{
				{Name: "ASIA", StartUTC: "25:00", EndUTC: "08:00"},
			},
		},
	}
	require.Error(t, Validate(cfg))
}

func TestValidateLiveRequiresBrokerMeta(t *testing.T) {
	cfg := &types.EngineConfig{
		Mode:    "live",
		Symbols: []string{"EURUSD"},
		Risk: types.RiskConfig{
			PerTradePct:             0.25,
			PerSymbolOpenRiskCapPct: 1.0,
			DailySoftStopPct:        -1.0,
			DailyHardStopPct:        -2.0,
		},
		SLTP: types.SLTPConfig{MinRRGate: 1.5, MaxBufferPips: 10},
	}
	require.Error(t, Validate(cfg))

	cfg.BrokerSymbols = map[string]types.SymbolMetaInput{
		"EURUSD": {Point: 0.00001, Digits: 5, ContractSize: 100000, VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100},
	}
	require.NoError(t, Validate(cfg))
}

func TestSymbolMetaConversion(t *testing.T) {
	meta := SymbolMeta("eurusd", types.SymbolMetaInput{
		Point: 0.00001, Digits: 5, ContractSize: 100000,
		VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100,
		SLHardFloorPts: 30,
	})
	require.Equal(t, "EURUSD", meta.Symbol)
	require.Equal(t, 5, meta.Digits)
	require.Equal(t, 30, meta.SLHardFloorPts)
	require.Equal(t, "0.00001", meta.Point.String())
	require.True(t, meta.PipValue().Equal(decimal.RequireFromString("0.0001")))
}
