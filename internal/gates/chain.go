package gates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/risk"
	"github.com/atlasfx/trading-engine/internal/session"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// Input carries everything the chain needs to evaluate one sized decision.
type Input struct {
	Decision      types.Decision
	StructureType types.StructureType
	Direction     types.Direction
	Sized         risk.SizeResult
	Meta          types.SymbolMeta
	BarIndex      int
	Now           time.Time
}

// Result is the chain's verdict.
type Result struct {
	Allowed            bool
	BlockEvent         string
	AdjustedConfidence decimal.Decimal
	HTF                HTFSnapshot
	SessionName        string
	SessionRelevance   session.Relevance
}

// Chain evaluates the ordered pre-execution gates. Any gate may block with a
// structured event; blocks are normal outcomes, never errors.
type Chain struct {
	logger  *zap.Logger
	gateway broker.Gateway
	guards  *risk.Guards
	ledger  *risk.Ledger

	thresholds map[string]decimal.Decimal
	limits     types.PositionLimitsConfig
	riskCfg    types.RiskConfig
	live       bool

	conflict *ConflictResolver
	htf      *HTFBias
	filter   *session.Filter
}

// NewChain wires the gate chain.
func NewChain(
	logger *zap.Logger,
	gateway broker.Gateway,
	guards *risk.Guards,
	ledger *risk.Ledger,
	thresholds map[string]float64,
	limits types.PositionLimitsConfig,
	riskCfg types.RiskConfig,
	live bool,
	conflict *ConflictResolver,
	htf *HTFBias,
	filter *session.Filter,
) *Chain {
	th := make(map[string]decimal.Decimal, len(thresholds))
	for k, v := range thresholds {
		th[k] = decimal.NewFromFloat(v)
	}
	return &Chain{
		logger:     logger.Named("gate-chain"),
		gateway:    gateway,
		guards:     guards,
		ledger:     ledger,
		thresholds: th,
		limits:     limits,
		riskCfg:    riskCfg,
		live:       live,
		conflict:   conflict,
		htf:        htf,
		filter:     filter,
	}
}

// Evaluate runs the gates in order and returns the first block, or an allow
// with the bias-adjusted confidence and journal context attached.
func (c *Chain) Evaluate(ctx context.Context, in Input) Result {
	res := Result{AdjustedConfidence: in.Decision.Confidence}

	// 1. Daily soft/hard stop carried from earlier today.
	if soft, hard := c.guards.DailyStopState(); soft || hard {
		res.BlockEvent = "trade_blocked_by_daily_stop"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.Bool("soft_triggered", soft),
			zap.Bool("hard_triggered", hard))
		return res
	}

	// 2. Margin and account-wide open risk (live only).
	if c.live {
		if blocked := c.checkMargin(ctx, in, &res); blocked {
			return res
		}
	}

	// 3. Structure-specific confidence threshold.
	if blocked := c.checkStructureThreshold(in, &res); blocked {
		return res
	}

	// 4. Position limits.
	if blocked := c.checkPositionLimit(ctx, in, &res); blocked {
		return res
	}

	// 5. Conflict resolver.
	if blocked, required := c.conflict.Check(in.Decision.Symbol, in.Direction, in.Decision.Confidence, in.BarIndex); blocked {
		res.BlockEvent = "trade_blocked_by_conflict_resolver"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("direction", string(in.Direction)),
			zap.String("confidence", in.Decision.Confidence.String()),
			zap.String("required", required.String()))
		return res
	}

	// 6. HTF bias (soft scoring plus optional hard block).
	snapshot, adjusted, blocked := c.htf.Evaluate(ctx, in.Decision, in.StructureType, in.Now)
	res.HTF = snapshot
	res.AdjustedConfidence = adjusted
	if blocked {
		res.BlockEvent = "trade_blocked_by_htf_bias"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("alignment", string(snapshot.Alignment)),
			zap.String("bias", string(snapshot.Bias)),
			zap.Bool("is_clear_trend", snapshot.ClearTrend),
			zap.String("confidence", in.Decision.Confidence.String()))
		return res
	}

	// 7. Session filter.
	sessionName, relevance, filterBlock := c.filter.Evaluate(in.Decision.Symbol, in.Now)
	res.SessionName = sessionName
	res.SessionRelevance = relevance
	if filterBlock {
		res.BlockEvent = "trade_blocked_by_session_filter"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("session_name", sessionName),
			zap.String("session_relevance", string(relevance)))
		return res
	}

	res.Allowed = true
	return res
}

func (c *Chain) checkMargin(ctx context.Context, in Input, res *Result) bool {
	account, err := c.gateway.AccountInfo(ctx)
	if err != nil {
		c.logger.Warn("margin_guard_account_unavailable",
			zap.String("symbol", in.Decision.Symbol),
			zap.Error(err))
		return false
	}

	if account.MarginLevel.Sign() > 0 &&
		account.MarginLevel.LessThan(decimal.NewFromFloat(c.riskCfg.MarginLevelMin)) {
		res.BlockEvent = "trade_blocked_by_margin_guard"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("reason", "margin_level_below_min"),
			zap.String("margin_level", account.MarginLevel.String()),
			zap.Float64("margin_level_min", c.riskCfg.MarginLevelMin))
		return true
	}

	if account.FreeMargin.Sign() > 0 && in.Meta.MarginInitial.Sign() > 0 {
		required := in.Meta.MarginInitial.Mul(in.Sized.Volume)
		usagePct := required.Div(account.FreeMargin).Mul(hundred)
		if usagePct.GreaterThan(decimal.NewFromFloat(c.riskCfg.MarginUsageMaxPct)) {
			res.BlockEvent = "trade_blocked_by_margin_guard"
			c.logger.Info(res.BlockEvent,
				zap.String("symbol", in.Decision.Symbol),
				zap.String("reason", "margin_usage_above_max"),
				zap.String("required_margin", required.String()),
				zap.String("free_margin", account.FreeMargin.String()),
				zap.String("usage_pct", usagePct.String()))
			return true
		}
	}

	if account.Equity.Sign() > 0 {
		totalAfter := c.ledger.Total().Add(in.Sized.NewTradeRisk)
		totalPct := totalAfter.Div(account.Equity).Mul(hundred)
		if totalPct.GreaterThan(decimal.NewFromFloat(c.riskCfg.MaxTotalOpenRiskPct)) {
			res.BlockEvent = "trade_blocked_by_margin_guard"
			c.logger.Info(res.BlockEvent,
				zap.String("symbol", in.Decision.Symbol),
				zap.String("reason", "total_open_risk_above_max"),
				zap.String("total_open_risk_after", totalAfter.String()),
				zap.String("equity", account.Equity.String()),
				zap.String("total_pct", totalPct.String()))
			return true
		}
	}

	return false
}

func (c *Chain) checkStructureThreshold(in Input, res *Result) bool {
	if len(c.thresholds) == 0 {
		return false
	}
	key := fmt.Sprintf("%s_%s", in.StructureType, in.Direction)
	threshold, ok := c.thresholds[key]
	if !ok {
		threshold, ok = c.thresholds[string(in.StructureType)]
	}
	if !ok {
		return false
	}
	if in.Decision.Confidence.GreaterThanOrEqual(threshold) {
		return false
	}
	res.BlockEvent = "trade_blocked_by_structure_threshold"
	c.logger.Info(res.BlockEvent,
		zap.String("symbol", in.Decision.Symbol),
		zap.String("structure_type", string(in.StructureType)),
		zap.String("direction", string(in.Direction)),
		zap.String("confidence", in.Decision.Confidence.String()),
		zap.String("threshold", threshold.String()))
	return true
}

func (c *Chain) checkPositionLimit(ctx context.Context, in Input, res *Result) bool {
	positions, err := c.gateway.Positions(ctx, in.Decision.Symbol)
	if err != nil {
		c.logger.Warn("position_limit_positions_unavailable",
			zap.String("symbol", in.Decision.Symbol),
			zap.Error(err))
		return false
	}

	sameDirection := 0
	for _, p := range positions {
		if p.Type == in.Decision.Type {
			sameDirection++
		}
	}

	if c.limits.MaxPositionsPerSymbol > 0 && len(positions) >= c.limits.MaxPositionsPerSymbol {
		res.BlockEvent = "trade_blocked_by_position_limit"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("reason", "max_positions_per_symbol"),
			zap.Int("current_positions", len(positions)),
			zap.Int("max_positions_per_symbol", c.limits.MaxPositionsPerSymbol))
		return true
	}
	if c.limits.MaxPositionsPerDirection > 0 && sameDirection >= c.limits.MaxPositionsPerDirection {
		res.BlockEvent = "trade_blocked_by_position_limit"
		c.logger.Info(res.BlockEvent,
			zap.String("symbol", in.Decision.Symbol),
			zap.String("reason", "max_positions_per_direction"),
			zap.Int("same_direction_positions", sameDirection),
			zap.Int("max_positions_per_direction", c.limits.MaxPositionsPerDirection))
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)
