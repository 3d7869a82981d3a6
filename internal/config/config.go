// Package config loads and validates the engine configuration tree.
//
// Configuration is read once at startup; components receive their slice at
// construction. Validation failures are fatal and the pipeline never starts.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// ConfigError is a fatal configuration problem detected at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// Load reads the configuration file at path into the typed tree and applies
// defaults. Supported formats are whatever viper supports at the extension
// (yaml, json, toml).
func Load(logger *zap.Logger, path string) (*types.EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	logger.Info("config_loaded",
		zap.String("path", path),
		zap.String("mode", cfg.Mode),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("timeframe", cfg.Timeframe))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dry_run")
	v.SetDefault("timeframe", "M15")

	v.SetDefault("execution.enabled", true)
	v.SetDefault("execution.min_rr", 1.5)
	v.SetDefault("execution.deviation_points", 10)
	v.SetDefault("execution.max_requotes", 1)
	v.SetDefault("execution.sl_buffer_points", 3)
	v.SetDefault("execution.max_slippage_points", 5)
	v.SetDefault("execution.rpc_timeout_seconds", 10)

	v.SetDefault("risk.per_trade_pct", 0.25)
	v.SetDefault("risk.per_symbol_open_risk_cap_pct", 1.0)
	v.SetDefault("risk.daily_soft_stop_pct", -1.0)
	v.SetDefault("risk.daily_hard_stop_pct", -2.0)
	v.SetDefault("risk.max_consecutive_send_failures", 3)
	v.SetDefault("risk.failure_cooldown_seconds", 300)
	v.SetDefault("risk.margin_level_min", 200.0)
	v.SetDefault("risk.margin_usage_max_pct", 50.0)
	v.SetDefault("risk.max_total_open_risk_pct", 5.0)
	v.SetDefault("risk.max_full_sl_hits_per_session", 2)

	v.SetDefault("ftmo.enabled", true)
	v.SetDefault("ftmo.max_daily_loss_pct", -5.0)
	v.SetDefault("ftmo.max_total_loss_pct", -10.0)
	v.SetDefault("ftmo.profit_target_pct", 10.0)
	v.SetDefault("ftmo.daily_warn_pct", -3.0)
	v.SetDefault("ftmo.total_warn_pct", -7.0)

	v.SetDefault("stop_guard.enabled", true)
	v.SetDefault("stop_guard.spread_buffer_multiplier", 2.0)
	v.SetDefault("stop_guard.tick_spread_multiplier", 3.0)
	v.SetDefault("stop_guard.tick_spread_buffer_points", 20.0)
	v.SetDefault("stop_guard.default_symbol_floor_points", 50)
	v.SetDefault("stop_guard.use_tick_based_stop_validation", true)

	v.SetDefault("invalid_stops.enable_adaptive_retry", true)
	v.SetDefault("invalid_stops.retry_tick_spread_multiplier", 4.0)
	v.SetDefault("invalid_stops.retry_tick_spread_buffer_points", 30.0)
	v.SetDefault("invalid_stops.retry_safety_margin_points", 20.0)
	v.SetDefault("invalid_stops.enable_naked_entry_fallback", false)
	v.SetDefault("invalid_stops.close_on_modify_failure", false)

	v.SetDefault("sltp.enabled", true)
	v.SetDefault("sltp.exit_priority", []string{"order_block", "fair_value_gap", "rejection", "atr"})
	v.SetDefault("sltp.atr_fallback_enabled", true)
	v.SetDefault("sltp.sl_atr_buffer", 0.15)
	v.SetDefault("sltp.tp_extension_atr", 1.0)
	v.SetDefault("sltp.min_buffer_pips", 1.0)
	v.SetDefault("sltp.max_buffer_pips", 10.0)
	v.SetDefault("sltp.min_rr_gate", 1.5)

	v.SetDefault("sessions.close_positions_on_session_end", false)
	v.SetDefault("sessions.volatility_pause.enabled", false)
	v.SetDefault("sessions.volatility_pause.spread_multiplier", 3.0)
	v.SetDefault("sessions.volatility_pause.atr_spike_multiplier", 2.5)
	v.SetDefault("sessions.volatility_pause.lookback_bars", 20)
	v.SetDefault("sessions.volatility_pause.min_pause_seconds", 300)

	v.SetDefault("htf_bias.enabled", true)
	v.SetDefault("htf_bias.timeframe", "H1")
	v.SetDefault("htf_bias.ema_period", 50)
	v.SetDefault("htf_bias.atr_period", 14)
	v.SetDefault("htf_bias.neutral_zone_atr_mult", 0.5)
	v.SetDefault("htf_bias.bias_bonus", 0.05)
	v.SetDefault("htf_bias.bias_penalty", 0.05)
	v.SetDefault("htf_bias.countertrend_override_score", 0.85)
	v.SetDefault("htf_bias.hard_block", "conditional")
	v.SetDefault("htf_bias.hard_block_clear_trend_mult", 1.5)
	v.SetDefault("htf_bias.lookback_bars", 100)
	v.SetDefault("htf_bias.cache_ttl_seconds", 300)
	v.SetDefault("htf_bias.elite_structures", []string{"order_block", "fair_value_gap", "engulfing"})

	v.SetDefault("conflict.enabled", true)
	v.SetDefault("conflict.lookback_bars", 12)
	v.SetDefault("conflict.base_threshold", 0.65)
	v.SetDefault("conflict.threshold_bump", 0.10)

	v.SetDefault("position_limits.max_positions_per_symbol", 2)
	v.SetDefault("position_limits.max_positions_per_direction", 1)

	v.SetDefault("session_filter.enabled", true)
	v.SetDefault("session_filter.mode", "log_only")

	v.SetDefault("detectors.min_bars", 50)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dir", "logs/trade_journal")

	v.SetDefault("onboarding.state_path", "state/symbol_onboarding_state.json")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_metrics", true)
}

// Validate performs fail-fast validation of the configuration tree.
func Validate(cfg *types.EngineConfig) error {
	switch cfg.Mode {
	case "dry_run", "paper", "live":
	default:
		return NewConfigError("mode", fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	if len(cfg.Symbols) == 0 {
		return NewConfigError("symbols", "at least one symbol required")
	}
	if cfg.Risk.PerTradePct <= 0 {
		return NewConfigError("risk.per_trade_pct", "must be > 0")
	}
	if cfg.Risk.PerSymbolOpenRiskCapPct <= 0 {
		return NewConfigError("risk.per_symbol_open_risk_cap_pct", "must be > 0")
	}
	if cfg.Risk.DailySoftStopPct >= 0 || cfg.Risk.DailyHardStopPct >= 0 {
		return NewConfigError("risk.daily_stop_pct", "daily stop percentages must be negative")
	}
	if cfg.Risk.DailyHardStopPct > cfg.Risk.DailySoftStopPct {
		return NewConfigError("risk.daily_hard_stop_pct", "hard stop must be at or below soft stop")
	}
	if cfg.SLTP.MinRRGate <= 0 {
		return NewConfigError("sltp.min_rr_gate", "must be > 0")
	}
	if cfg.SLTP.MinBufferPips > cfg.SLTP.MaxBufferPips {
		return NewConfigError("sltp.min_buffer_pips", "must be <= max_buffer_pips")
	}
	for _, m := range cfg.SLTP.ExitPriority {
		switch m {
		case "order_block", "fair_value_gap", "rejection", "atr":
		default:
			return NewConfigError("sltp.exit_priority", fmt.Sprintf("unknown exit method %q", m))
		}
	}
	switch cfg.HTF.HardBlock {
	case "always", "conditional", "never", "":
	default:
		return NewConfigError("htf_bias.hard_block", fmt.Sprintf("unknown mode %q", cfg.HTF.HardBlock))
	}
	switch cfg.SessionFilter.Mode {
	case "log_only", "enforce", "":
	default:
		return NewConfigError("session_filter.mode", fmt.Sprintf("unknown mode %q", cfg.SessionFilter.Mode))
	}
	for i, w := range cfg.Sessions.Windows {
		if w.Name == "" {
			return NewConfigError(fmt.Sprintf("sessions.windows[%d].name", i), "empty session name")
		}
		if _, err := utils.ParseClockUTC(w.StartUTC); err != nil {
			return NewConfigError(fmt.Sprintf("sessions.windows[%d].start_utc", i), err.Error())
		}
		if _, err := utils.ParseClockUTC(w.EndUTC); err != nil {
			return NewConfigError(fmt.Sprintf("sessions.windows[%d].end_utc", i), err.Error())
		}
	}
	if cfg.Mode == "live" {
		for _, sym := range cfg.Symbols {
			meta, ok := cfg.BrokerSymbols[sym]
			if !ok {
				return NewConfigError("broker_symbols", fmt.Sprintf("missing broker metadata for %s", sym))
			}
			if meta.Point <= 0 {
				return NewConfigError("broker_symbols."+sym+".point", "must be > 0")
			}
			if meta.ContractSize <= 0 {
				return NewConfigError("broker_symbols."+sym+".contract_size", "must be > 0")
			}
			if meta.VolumeStep <= 0 || meta.VolumeMin <= 0 {
				return NewConfigError("broker_symbols."+sym, "volume_min and volume_step must be > 0")
			}
		}
	}
	return nil
}

// SymbolMeta converts on-disk broker metadata into the runtime decimal form.
func SymbolMeta(symbol string, in types.SymbolMetaInput) types.SymbolMeta {
	return types.SymbolMeta{
		Symbol:          utils.FormatSymbol(symbol),
		Point:           decimal.NewFromFloat(in.Point),
		Digits:          in.Digits,
		ContractSize:    decimal.NewFromFloat(in.ContractSize),
		VolumeMin:       decimal.NewFromFloat(in.VolumeMin),
		VolumeStep:      decimal.NewFromFloat(in.VolumeStep),
		VolumeMax:       decimal.NewFromFloat(in.VolumeMax),
		StopsLevel:      in.StopsLevel,
		SLHardFloorPts:  in.SLHardFloorPts,
		MinStopDistance: decimal.NewFromFloat(in.MinStopDistance),
		MaxStopDistance: decimal.NewFromFloat(in.MaxStopDistance),
		MarginInitial:   decimal.NewFromFloat(in.MarginInitial),
	}
}
