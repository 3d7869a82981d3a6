package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Guards owns the daily drawdown baseline, the shadow FTMO equity monitor,
// and the consecutive send-failure cooldown. Percentages in configuration are
// percentages; they are divided by 100 exactly once, here.
type Guards struct {
	logger *zap.Logger

	softStopFrac decimal.Decimal // negative fraction, e.g. -0.01
	hardStopFrac decimal.Decimal

	ftmoEnabled    bool
	ftmoDailyFrac  decimal.Decimal
	ftmoTotalFrac  decimal.Decimal
	ftmoDailyWarn  decimal.Decimal
	ftmoTotalWarn  decimal.Decimal
	accountStart   decimal.Decimal

	maxConsecutiveFails int
	failureCooldown     time.Duration

	// daily state, reset at each UTC midnight crossing
	baselineDate    time.Time
	baselineEquity  decimal.Decimal
	softTriggered   bool
	hardTriggered   bool
	dailyEquityLow  decimal.Decimal
	dailyWarnFired  bool
	ftmoDailyHit    bool

	// all-time state
	totalEquityLow decimal.Decimal
	totalWarnFired bool
	ftmoTotalHit   bool

	// failure cooldown state
	consecutiveFails int
	lastFailureAt    time.Time
}

// NewGuards builds the guard set from configuration. accountStart seeds the
// FTMO total-loss reference; zero disables the total-loss check until the
// first equity observation.
func NewGuards(logger *zap.Logger, riskCfg types.RiskConfig, ftmoCfg types.FTMOConfig) *Guards {
	g := &Guards{
		logger:              logger.Named("equity-guards"),
		softStopFrac:        decimal.NewFromFloat(riskCfg.DailySoftStopPct).Div(hundred),
		hardStopFrac:        decimal.NewFromFloat(riskCfg.DailyHardStopPct).Div(hundred),
		ftmoEnabled:         ftmoCfg.Enabled,
		ftmoDailyFrac:       decimal.NewFromFloat(ftmoCfg.MaxDailyLossPct).Div(hundred),
		ftmoTotalFrac:       decimal.NewFromFloat(ftmoCfg.MaxTotalLossPct).Div(hundred),
		ftmoDailyWarn:       decimal.NewFromFloat(ftmoCfg.DailyWarnPct).Div(hundred),
		ftmoTotalWarn:       decimal.NewFromFloat(ftmoCfg.TotalWarnPct).Div(hundred),
		accountStart:        decimal.NewFromFloat(ftmoCfg.AccountStartValue),
		maxConsecutiveFails: riskCfg.MaxConsecutiveSendFails,
		failureCooldown:     time.Duration(riskCfg.FailureCooldownSeconds) * time.Second,
	}
	return g
}

// RolloverIfNewDay resets the daily baseline and flags when the UTC date has
// advanced. Returns true when a rollover happened.
func (g *Guards) RolloverIfNewDay(now time.Time, equity decimal.Decimal) bool {
	date := utils.UTCDate(now)
	if !g.baselineDate.IsZero() && date.Equal(g.baselineDate) {
		return false
	}
	g.baselineDate = date
	g.baselineEquity = equity
	g.softTriggered = false
	g.hardTriggered = false
	g.dailyEquityLow = equity
	g.dailyWarnFired = false
	g.ftmoDailyHit = false
	if g.accountStart.IsZero() {
		g.accountStart = equity
	}
	if g.totalEquityLow.IsZero() {
		g.totalEquityLow = equity
	}
	g.logger.Info("daily_baseline_reset",
		zap.Time("date", date),
		zap.String("baseline_equity", equity.String()))
	return true
}

// DailyStopState reports the current soft/hard flags.
func (g *Guards) DailyStopState() (soft, hard bool) {
	return g.softTriggered, g.hardTriggered
}

// CheckDailyStops evaluates the daily drawdown against the soft and hard
// thresholds. hardHit is true on the transition into the hard stop so the
// caller can flatten once.
func (g *Guards) CheckDailyStops(equity decimal.Decimal) (blocked, hardHit bool) {
	if g.baselineEquity.IsZero() {
		return false, false
	}
	if g.hardTriggered {
		return true, false
	}

	ddFrac := equity.Sub(g.baselineEquity).Div(g.baselineEquity)

	if ddFrac.LessThanOrEqual(g.hardStopFrac) {
		g.hardTriggered = true
		g.softTriggered = true
		g.logger.Error("daily_hard_stop_hit",
			zap.String("equity", equity.String()),
			zap.String("baseline_equity", g.baselineEquity.String()),
			zap.String("dd_frac", ddFrac.String()),
			zap.String("hard_stop_frac", g.hardStopFrac.String()))
		return true, true
	}

	if ddFrac.LessThanOrEqual(g.softStopFrac) {
		if !g.softTriggered {
			g.softTriggered = true
			g.logger.Warn("daily_soft_stop_hit",
				zap.String("equity", equity.String()),
				zap.String("baseline_equity", g.baselineEquity.String()),
				zap.String("dd_frac", ddFrac.String()),
				zap.String("soft_stop_frac", g.softStopFrac.String()))
		}
		return true, false
	}

	return g.softTriggered, false
}

// ObserveEquityFTMO updates the shadow FTMO lows and evaluates the daily and
// total limits. Returns true when either limit is breached.
func (g *Guards) ObserveEquityFTMO(equity decimal.Decimal) bool {
	if !g.ftmoEnabled {
		return false
	}
	if g.dailyEquityLow.IsZero() || equity.LessThan(g.dailyEquityLow) {
		g.dailyEquityLow = equity
	}
	if g.totalEquityLow.IsZero() || equity.LessThan(g.totalEquityLow) {
		g.totalEquityLow = equity
	}

	breached := false

	if !g.baselineEquity.IsZero() {
		dailyFrac := g.dailyEquityLow.Sub(g.baselineEquity).Div(g.baselineEquity)
		if dailyFrac.LessThanOrEqual(g.ftmoDailyFrac) {
			if !g.ftmoDailyHit {
				g.ftmoDailyHit = true
				g.logger.Error("ftmo_daily_limit_hit",
					zap.String("daily_equity_low", g.dailyEquityLow.String()),
					zap.String("baseline_equity", g.baselineEquity.String()),
					zap.String("daily_frac", dailyFrac.String()))
			}
			breached = true
		} else if dailyFrac.LessThanOrEqual(g.ftmoDailyWarn) && !g.dailyWarnFired {
			g.dailyWarnFired = true
			g.logger.Warn("ftmo_daily_warning",
				zap.String("daily_frac", dailyFrac.String()),
				zap.String("warn_frac", g.ftmoDailyWarn.String()))
		}
	}

	if !g.accountStart.IsZero() {
		totalFrac := g.totalEquityLow.Sub(g.accountStart).Div(g.accountStart)
		if totalFrac.LessThanOrEqual(g.ftmoTotalFrac) {
			if !g.ftmoTotalHit {
				g.ftmoTotalHit = true
				g.logger.Error("ftmo_total_limit_hit",
					zap.String("total_equity_low", g.totalEquityLow.String()),
					zap.String("account_start", g.accountStart.String()),
					zap.String("total_frac", totalFrac.String()))
			}
			breached = true
		} else if totalFrac.LessThanOrEqual(g.ftmoTotalWarn) && !g.totalWarnFired {
			g.totalWarnFired = true
			g.logger.Warn("ftmo_total_warning",
				zap.String("total_frac", totalFrac.String()),
				zap.String("warn_frac", g.ftmoTotalWarn.String()))
		}
	}

	return breached || g.ftmoDailyHit || g.ftmoTotalHit
}

// RecordSendFailure counts a real broker failure toward the cooldown. A prior
// failure older than the cooldown window resets the streak first.
func (g *Guards) RecordSendFailure(now time.Time) {
	if g.consecutiveFails > 0 && !g.lastFailureAt.IsZero() && now.Sub(g.lastFailureAt) > g.failureCooldown {
		g.logger.Info("failure_counter_cooldown_reset",
			zap.Int("previous_count", g.consecutiveFails),
			zap.Duration("since_last_failure", now.Sub(g.lastFailureAt)))
		g.consecutiveFails = 0
	}
	g.consecutiveFails++
	g.lastFailureAt = now
}

// RecordSendSuccess clears the failure streak.
func (g *Guards) RecordSendSuccess() {
	g.consecutiveFails = 0
}

// FailuresSaturated reports whether execution should pause on repeated broker
// failures. An expired cooldown clears the streak and resumes.
func (g *Guards) FailuresSaturated(now time.Time) bool {
	if g.maxConsecutiveFails <= 0 {
		return false
	}
	if g.consecutiveFails >= g.maxConsecutiveFails {
		if !g.lastFailureAt.IsZero() && now.Sub(g.lastFailureAt) > g.failureCooldown {
			g.logger.Info("failure_counter_cooldown_reset",
				zap.Int("previous_count", g.consecutiveFails),
				zap.Duration("since_last_failure", now.Sub(g.lastFailureAt)))
			g.consecutiveFails = 0
			return false
		}
		return true
	}
	return false
}

// ConsecutiveFailures returns the current failure streak.
func (g *Guards) ConsecutiveFailures() int { return g.consecutiveFails }

// BaselineEquity returns the daily baseline equity.
func (g *Guards) BaselineEquity() decimal.Decimal { return g.baselineEquity }
