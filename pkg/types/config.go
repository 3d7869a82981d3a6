// Package types provides configuration types for the trading engine.
//
// Components receive their slice of this tree at construction; there is no
// process-wide registry. Multipliers and percentage knobs are declared as
// float64 and converted to decimal once, at component construction.
package types

// EngineConfig is the root configuration tree.
type EngineConfig struct {
	Mode          string                     `json:"mode" mapstructure:"mode"` // dry_run | paper | live
	Symbols       []string                   `json:"symbols" mapstructure:"symbols"`
	Timeframe     string                     `json:"timeframe" mapstructure:"timeframe"`
	Execution     ExecutionConfig            `json:"execution" mapstructure:"execution"`
	Risk          RiskConfig                 `json:"risk" mapstructure:"risk"`
	FTMO          FTMOConfig                 `json:"ftmo" mapstructure:"ftmo"`
	StopGuard     StopGuardConfig            `json:"stop_guard" mapstructure:"stop_guard"`
	InvalidStops  InvalidStopsConfig         `json:"invalid_stops" mapstructure:"invalid_stops"`
	SLTP          SLTPConfig                 `json:"sltp" mapstructure:"sltp"`
	Sessions      SessionsConfig             `json:"sessions" mapstructure:"sessions"`
	HTF           HTFBiasConfig              `json:"htf_bias" mapstructure:"htf_bias"`
	Conflict      ConflictConfig             `json:"conflict" mapstructure:"conflict"`
	Limits        PositionLimitsConfig       `json:"position_limits" mapstructure:"position_limits"`
	Thresholds    map[string]float64         `json:"structure_thresholds" mapstructure:"structure_thresholds"`
	SessionFilter SessionFilterConfig        `json:"session_filter" mapstructure:"session_filter"`
	Detectors     DetectorsConfig            `json:"detectors" mapstructure:"detectors"`
	Onboarding    OnboardingConfig           `json:"onboarding" mapstructure:"onboarding"`
	BrokerSymbols map[string]SymbolMetaInput `json:"broker_symbols" mapstructure:"broker_symbols"`
	Journal       JournalConfig              `json:"journal" mapstructure:"journal"`
	Server        ServerConfig               `json:"server" mapstructure:"server"`
}

// SymbolMetaInput is the on-disk shape of broker symbol metadata.
type SymbolMetaInput struct {
	Point           float64 `json:"point" mapstructure:"point"`
	Digits          int     `json:"digits" mapstructure:"digits"`
	ContractSize    float64 `json:"contract_size" mapstructure:"contract_size"`
	VolumeMin       float64 `json:"volume_min" mapstructure:"volume_min"`
	VolumeStep      float64 `json:"volume_step" mapstructure:"volume_step"`
	VolumeMax       float64 `json:"volume_max" mapstructure:"volume_max"`
	StopsLevel      int     `json:"stops_level" mapstructure:"stops_level"`
	SLHardFloorPts  int     `json:"sl_hard_floor_points" mapstructure:"sl_hard_floor_points"`
	MinStopDistance float64 `json:"min_stop_distance" mapstructure:"min_stop_distance"`
	MaxStopDistance float64 `json:"max_stop_distance" mapstructure:"max_stop_distance"`
	MarginInitial   float64 `json:"margin_initial" mapstructure:"margin_initial"`
}

// ExecutionConfig controls the order executor.
type ExecutionConfig struct {
	Enabled             bool    `json:"enabled" mapstructure:"enabled"`
	MinRR               float64 `json:"min_rr" mapstructure:"min_rr"`
	EnableRealOrders    bool    `json:"enable_real_orders" mapstructure:"enable_real_orders"`
	DeviationPoints     int     `json:"deviation_points" mapstructure:"deviation_points"`
	MaxRequotes         int     `json:"max_requotes" mapstructure:"max_requotes"`
	SLBufferPoints      int     `json:"sl_buffer_points" mapstructure:"sl_buffer_points"`
	MaxSlippagePoints   int     `json:"max_slippage_points" mapstructure:"max_slippage_points"`
	Magic               int64   `json:"magic" mapstructure:"magic"`
	RPCTimeoutSeconds   int     `json:"rpc_timeout_seconds" mapstructure:"rpc_timeout_seconds"`
}

// RiskConfig controls position sizing and drawdown stops. Percentage values
// are percentages (per_trade_pct=0.25 means 0.25%), converted to fractions at
// use sites.
type RiskConfig struct {
	PerTradePct              float64 `json:"per_trade_pct" mapstructure:"per_trade_pct"`
	PerSymbolOpenRiskCapPct  float64 `json:"per_symbol_open_risk_cap_pct" mapstructure:"per_symbol_open_risk_cap_pct"`
	DailySoftStopPct         float64 `json:"daily_soft_stop_pct" mapstructure:"daily_soft_stop_pct"` // negative, e.g. -1.0
	DailyHardStopPct         float64 `json:"daily_hard_stop_pct" mapstructure:"daily_hard_stop_pct"` // negative, e.g. -2.0
	MaxConsecutiveSendFails  int     `json:"max_consecutive_send_failures" mapstructure:"max_consecutive_send_failures"`
	FailureCooldownSeconds   int     `json:"failure_cooldown_seconds" mapstructure:"failure_cooldown_seconds"`
	MarginLevelMin           float64 `json:"margin_level_min" mapstructure:"margin_level_min"`
	MarginUsageMaxPct        float64 `json:"margin_usage_max_pct" mapstructure:"margin_usage_max_pct"`
	MaxTotalOpenRiskPct      float64 `json:"max_total_open_risk_pct" mapstructure:"max_total_open_risk_pct"`
	MaxFullSLHitsPerSession  int     `json:"max_full_sl_hits_per_session" mapstructure:"max_full_sl_hits_per_session"`
}

// FTMOConfig is the shadow prop-firm equity guard.
type FTMOConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	MaxDailyLossPct   float64 `json:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`   // e.g. -5.0
	MaxTotalLossPct   float64 `json:"max_total_loss_pct" mapstructure:"max_total_loss_pct"`   // e.g. -10.0
	ProfitTargetPct   float64 `json:"profit_target_pct" mapstructure:"profit_target_pct"`     // e.g. 10.0
	DailyWarnPct      float64 `json:"daily_warn_pct" mapstructure:"daily_warn_pct"`           // e.g. -3.0
	TotalWarnPct      float64 `json:"total_warn_pct" mapstructure:"total_warn_pct"`           // e.g. -7.0
	AccountStartValue float64 `json:"account_start_value" mapstructure:"account_start_value"`
}

// StopGuardConfig controls the broker-stop pre-check.
type StopGuardConfig struct {
	Enabled                 bool            `json:"enabled" mapstructure:"enabled"`
	SpreadBufferMultiplier  float64         `json:"spread_buffer_multiplier" mapstructure:"spread_buffer_multiplier"`
	TickSpreadMultiplier    float64         `json:"tick_spread_multiplier" mapstructure:"tick_spread_multiplier"`
	TickSpreadBufferPoints  float64         `json:"tick_spread_buffer_points" mapstructure:"tick_spread_buffer_points"`
	DefaultSymbolFloorPts   int             `json:"default_symbol_floor_points" mapstructure:"default_symbol_floor_points"`
	SymbolFloorPoints       map[string]int  `json:"symbol_floor_points" mapstructure:"symbol_floor_points"`
	UseTickBasedValidation  bool            `json:"use_tick_based_stop_validation" mapstructure:"use_tick_based_stop_validation"`
}

// InvalidStopsConfig controls recovery from broker invalid-stops rejections.
type InvalidStopsConfig struct {
	EnableAdaptiveRetry      bool    `json:"enable_adaptive_retry" mapstructure:"enable_adaptive_retry"`
	RetryTickSpreadMult      float64 `json:"retry_tick_spread_multiplier" mapstructure:"retry_tick_spread_multiplier"`
	RetryTickSpreadBufferPts float64 `json:"retry_tick_spread_buffer_points" mapstructure:"retry_tick_spread_buffer_points"`
	RetrySafetyMarginPts     float64 `json:"retry_safety_margin_points" mapstructure:"retry_safety_margin_points"`
	EnableNakedEntryFallback bool    `json:"enable_naked_entry_fallback" mapstructure:"enable_naked_entry_fallback"`
	CloseOnModifyFailure     bool    `json:"close_on_modify_failure" mapstructure:"close_on_modify_failure"`
}

// SLTPConfig controls structure-first exit planning.
type SLTPConfig struct {
	Enabled            bool     `json:"enabled" mapstructure:"enabled"`
	ExitPriority       []string `json:"exit_priority" mapstructure:"exit_priority"`
	ATRFallbackEnabled bool     `json:"atr_fallback_enabled" mapstructure:"atr_fallback_enabled"`
	SLATRBuffer        float64  `json:"sl_atr_buffer" mapstructure:"sl_atr_buffer"`
	TPExtensionATR     float64  `json:"tp_extension_atr" mapstructure:"tp_extension_atr"`
	MinBufferPips      float64  `json:"min_buffer_pips" mapstructure:"min_buffer_pips"`
	MaxBufferPips      float64  `json:"max_buffer_pips" mapstructure:"max_buffer_pips"`
	MinRRGate          float64  `json:"min_rr_gate" mapstructure:"min_rr_gate"`
}

// SessionWindowConfig is one UTC trading window.
type SessionWindowConfig struct {
	Name             string  `json:"name" mapstructure:"name"`
	StartUTC         string  `json:"start_utc" mapstructure:"start_utc"` // "HH:MM"
	EndUTC           string  `json:"end_utc" mapstructure:"end_utc"`
	MaxTradesPerHour int     `json:"max_trades_per_hour" mapstructure:"max_trades_per_hour"`
	ScoreBonus       float64 `json:"score_bonus" mapstructure:"score_bonus"`
}

// VolatilityPauseConfig controls the spread/ATR-spike pause.
type VolatilityPauseConfig struct {
	Enabled            bool    `json:"enabled" mapstructure:"enabled"`
	SpreadMultiplier   float64 `json:"spread_multiplier" mapstructure:"spread_multiplier"`
	ATRSpikeMultiplier float64 `json:"atr_spike_multiplier" mapstructure:"atr_spike_multiplier"`
	LookbackBars       int     `json:"lookback_bars" mapstructure:"lookback_bars"`
	MinPauseSeconds    int     `json:"min_pause_seconds" mapstructure:"min_pause_seconds"`
}

// SessionsConfig groups session windows and rotation policy.
type SessionsConfig struct {
	Windows                    []SessionWindowConfig `json:"windows" mapstructure:"windows"`
	ClosePositionsOnSessionEnd bool                  `json:"close_positions_on_session_end" mapstructure:"close_positions_on_session_end"`
	VolatilityPause            VolatilityPauseConfig `json:"volatility_pause" mapstructure:"volatility_pause"`
}

// HTFBiasConfig controls higher-timeframe bias scoring and hard blocks.
type HTFBiasConfig struct {
	Enabled                  bool    `json:"enabled" mapstructure:"enabled"`
	Timeframe                string  `json:"timeframe" mapstructure:"timeframe"`
	EMAPeriod                int     `json:"ema_period" mapstructure:"ema_period"`
	ATRPeriod                int     `json:"atr_period" mapstructure:"atr_period"`
	NeutralZoneATRMult       float64 `json:"neutral_zone_atr_mult" mapstructure:"neutral_zone_atr_mult"`
	BiasBonus                float64 `json:"bias_bonus" mapstructure:"bias_bonus"`
	BiasPenalty              float64 `json:"bias_penalty" mapstructure:"bias_penalty"`
	CountertrendOverride     float64 `json:"countertrend_override_score" mapstructure:"countertrend_override_score"`
	HardBlock                string  `json:"hard_block" mapstructure:"hard_block"` // always | conditional | never
	HardBlockClearTrendMult  float64 `json:"hard_block_clear_trend_mult" mapstructure:"hard_block_clear_trend_mult"`
	LookbackBars             int     `json:"lookback_bars" mapstructure:"lookback_bars"`
	CacheTTLSeconds          int     `json:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	EliteStructures          []string `json:"elite_structures" mapstructure:"elite_structures"`
	LogBiasChecks            bool    `json:"log_bias_checks" mapstructure:"log_bias_checks"`
}

// ConflictConfig controls the opposing-signal conflict resolver.
type ConflictConfig struct {
	Enabled       bool    `json:"enabled" mapstructure:"enabled"`
	LookbackBars  int     `json:"lookback_bars" mapstructure:"lookback_bars"`
	BaseThreshold float64 `json:"base_threshold" mapstructure:"base_threshold"`
	ThresholdBump float64 `json:"threshold_bump" mapstructure:"threshold_bump"`
}

// PositionLimitsConfig caps concurrent positions.
type PositionLimitsConfig struct {
	MaxPositionsPerSymbol    int `json:"max_positions_per_symbol" mapstructure:"max_positions_per_symbol"`
	MaxPositionsPerDirection int `json:"max_positions_per_direction" mapstructure:"max_positions_per_direction"`
}

// SessionFilterConfig classifies symbol/session relevance.
type SessionFilterConfig struct {
	Enabled     bool                           `json:"enabled" mapstructure:"enabled"`
	Mode        string                         `json:"mode" mapstructure:"mode"` // log_only | enforce
	SymbolRules map[string]SessionRelevanceSet `json:"symbol_rules" mapstructure:"symbol_rules"`
}

// SessionRelevanceSet lists which sessions suit a symbol.
type SessionRelevanceSet struct {
	Ideal      []string `json:"ideal" mapstructure:"ideal"`
	Acceptable []string `json:"acceptable" mapstructure:"acceptable"`
	Avoid      []string `json:"avoid" mapstructure:"avoid"`
}

// DetectorConfig holds per-detector parameters. Not every field applies to
// every detector; constructors validate the fields they use.
type DetectorConfig struct {
	Enabled              bool    `json:"enabled" mapstructure:"enabled"`
	ATRWindow            int     `json:"atr_window" mapstructure:"atr_window"`
	DebounceBars         int     `json:"debounce_bars" mapstructure:"debounce_bars"`
	MinBodyATR           float64 `json:"min_body_atr" mapstructure:"min_body_atr"`
	MinBodyToRange       float64 `json:"min_body_to_range" mapstructure:"min_body_to_range"`
	MinGapATRMultiplier  float64 `json:"min_gap_atr_multiplier" mapstructure:"min_gap_atr_multiplier"`
	PivotWindow          int     `json:"pivot_window" mapstructure:"pivot_window"`
	SweepExcessATR       float64 `json:"sweep_excess_atr" mapstructure:"sweep_excess_atr"`
	MinReactionBodyATR   float64 `json:"min_reaction_body_atr" mapstructure:"min_reaction_body_atr"`
	MinFollowThroughATR  float64 `json:"min_follow_through_atr" mapstructure:"min_follow_through_atr"`
	LookaheadBars        int     `json:"lookahead_bars" mapstructure:"lookahead_bars"`
	DisplacementBodyATR  float64 `json:"displacement_min_body_atr" mapstructure:"displacement_min_body_atr"`
	QualityWeights       map[string]float64 `json:"quality_weights" mapstructure:"quality_weights"`
}

// DetectorsConfig groups the six structure detectors.
type DetectorsConfig struct {
	OrderBlock       DetectorConfig `json:"order_block" mapstructure:"order_block"`
	FairValueGap     DetectorConfig `json:"fair_value_gap" mapstructure:"fair_value_gap"`
	BreakOfStructure DetectorConfig `json:"break_of_structure" mapstructure:"break_of_structure"`
	Sweep            DetectorConfig `json:"sweep" mapstructure:"sweep"`
	Rejection        DetectorConfig `json:"rejection" mapstructure:"rejection"`
	Engulfing        DetectorConfig `json:"engulfing" mapstructure:"engulfing"`
	MinBars          int            `json:"min_bars" mapstructure:"min_bars"`
}

// OnboardingSymbolConfig is per-symbol onboarding configuration.
type OnboardingSymbolConfig struct {
	InitialState              string  `json:"initial_state" mapstructure:"initial_state"`
	ExecuteWhenPromoted       *bool   `json:"execute_when_promoted" mapstructure:"execute_when_promoted"`
	ProbationMinSessions      int     `json:"probation_min_sessions" mapstructure:"probation_min_sessions"`
	ProbationMinTrades        int     `json:"probation_min_trades" mapstructure:"probation_min_trades"`
	MaxValidationErrors       int     `json:"max_validation_errors" mapstructure:"max_validation_errors"`
	RiskCapMultiplierProbation float64 `json:"risk_cap_multiplier_during_probation" mapstructure:"risk_cap_multiplier_during_probation"`
}

// OnboardingConfig groups onboarding state handling.
type OnboardingConfig struct {
	StatePath string                            `json:"state_path" mapstructure:"state_path"`
	Symbols   map[string]OnboardingSymbolConfig `json:"symbols" mapstructure:"symbols"`
}

// JournalConfig controls trade journal persistence.
type JournalConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	EnableMetrics bool   `json:"enable_metrics" mapstructure:"enable_metrics"`
}
