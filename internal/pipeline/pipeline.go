// Package pipeline drives the per-bar decision flow: reconcile, rotate,
// guard, detect, plan, size, gate, execute, journal.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/execution"
	"github.com/atlasfx/trading-engine/internal/gates"
	"github.com/atlasfx/trading-engine/internal/indicators"
	"github.com/atlasfx/trading-engine/internal/journal"
	"github.com/atlasfx/trading-engine/internal/metrics"
	"github.com/atlasfx/trading-engine/internal/onboarding"
	"github.com/atlasfx/trading-engine/internal/planner"
	"github.com/atlasfx/trading-engine/internal/risk"
	"github.com/atlasfx/trading-engine/internal/session"
	"github.com/atlasfx/trading-engine/internal/structure"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

const maxSeriesBars = 500

// symbolState is the per-symbol rolling state the pipeline owns.
type symbolState struct {
	series     types.Series
	barIndex   int
	atrHistory []decimal.Decimal
	spreads    []decimal.Decimal
}

// Stats summarizes a pipeline's activity.
type Stats struct {
	ProcessedBars      int            `json:"processedBars"`
	DecisionsGenerated int            `json:"decisionsGenerated"`
	OrdersExecuted     int            `json:"ordersExecuted"`
	ExitMethodHist     map[string]int `json:"exitMethodHist"`
}

// Pipeline is the bar-driven orchestrator for one engine instance. It owns
// the session state, risk ledger, drawdown baselines, signal history, HTF
// cache (via the gate chain), and the journal entry cache.
type Pipeline struct {
	logger  *zap.Logger
	cfg     *types.EngineConfig
	gateway broker.Gateway

	manager    *structure.Manager
	sessions   *session.Manager
	filter     *session.Filter
	sizer      *risk.Sizer
	ledger     *risk.Ledger
	guards     *risk.Guards
	onboarding *onboarding.Manager
	chain      *gates.Chain
	executor   *execution.Executor
	journal    *journal.Journal

	symbolMeta map[string]types.SymbolMeta
	planners   map[string]*planner.Planner
	state      map[string]*symbolState

	atrWindow int
	minBars   int

	stats        Stats
	allDecisions []types.Decision
	lastDealScan time.Time

	onDecision func(types.Decision)
	onOutcome  func(journal.Outcome)
}

// SetDecisionCallback registers a hook fired for every decision that reaches
// the executor successfully.
func (p *Pipeline) SetDecisionCallback(fn func(types.Decision)) { p.onDecision = fn }

// SetOutcomeCallback registers a hook fired for every recorded trade outcome.
func (p *Pipeline) SetOutcomeCallback(fn func(journal.Outcome)) { p.onOutcome = fn }

// New wires a pipeline from its collaborators.
func New(
	logger *zap.Logger,
	cfg *types.EngineConfig,
	gateway broker.Gateway,
	manager *structure.Manager,
	sessions *session.Manager,
	filter *session.Filter,
	guards *risk.Guards,
	onboardingMgr *onboarding.Manager,
	chain *gates.Chain,
	executor *execution.Executor,
	ledger *risk.Ledger,
	tradeJournal *journal.Journal,
	symbolMeta map[string]types.SymbolMeta,
) *Pipeline {
	p := &Pipeline{
		logger:     logger.Named("pipeline"),
		cfg:        cfg,
		gateway:    gateway,
		manager:    manager,
		sessions:   sessions,
		filter:     filter,
		sizer:      risk.NewSizer(logger),
		ledger:     ledger,
		guards:     guards,
		onboarding: onboardingMgr,
		chain:      chain,
		executor:   executor,
		journal:    tradeJournal,
		symbolMeta: symbolMeta,
		planners:   make(map[string]*planner.Planner, len(symbolMeta)),
		state:      make(map[string]*symbolState),
		atrWindow:  14,
		minBars:    cfg.Detectors.MinBars,
	}
	if p.minBars <= 0 {
		p.minBars = 50
	}
	for sym, meta := range symbolMeta {
		p.planners[sym] = planner.New(logger, cfg.SLTP, meta)
	}
	p.stats.ExitMethodHist = make(map[string]int)
	return p
}

// Seed preloads historical bars for a symbol.
func (p *Pipeline) Seed(symbol string, bars []types.Bar) error {
	st := p.stateFor(symbol)
	for _, b := range bars {
		if err := st.series.Append(b); err != nil {
			return err
		}
		st.barIndex++
	}
	return nil
}

func (p *Pipeline) stateFor(symbol string) *symbolState {
	st, ok := p.state[symbol]
	if !ok {
		st = &symbolState{series: types.Series{Symbol: symbol, Timeframe: p.cfg.Timeframe}}
		p.state[symbol] = st
	}
	return st
}

// ProcessBar runs one bar through the full decision flow. Recoverable
// problems are logged and skip the bar; the bar counter always advances.
func (p *Pipeline) ProcessBar(ctx context.Context, symbol string, bar types.Bar) []types.Decision {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline_processing_error",
				zap.String("symbol", symbol),
				zap.Any("panic", r))
		}
	}()

	now := bar.Timestamp
	st := p.stateFor(symbol)

	// 1. Reconcile closed positions before anything this bar.
	p.reconcile(ctx, symbol, now)

	// 2. Session rotation, with optional close-out of tracked symbols.
	if prev, rotated := p.sessions.UpdateAndRotate(now); rotated {
		if prev != "" && p.cfg.Sessions.ClosePositionsOnSessionEnd {
			p.executor.CloseAll(ctx, p.cfg.Symbols)
		}
	}

	// 3. Daily baseline reset on UTC date rollover.
	equity := p.equity(ctx)
	p.guards.RolloverIfNewDay(now, equity)
	metrics.Equity.Set(equity.InexactFloat64())

	// 4. Market-open and symbol-tradable guard.
	if open, err := p.gateway.IsMarketOpen(ctx, symbol); err == nil && !open {
		p.logger.Info("market_closed_skip",
			zap.String("symbol", symbol),
			zap.String("session", p.sessions.Current()),
			zap.Time("timestamp", now))
		return nil
	}

	// 5. Count the bar early so early-returning guards still count it.
	p.stats.ProcessedBars++
	metrics.BarsProcessed.WithLabelValues(symbol).Inc()

	if err := st.series.Append(bar); err != nil {
		p.logger.Warn("bar_rejected", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	st.barIndex++
	if len(st.series.Bars) > maxSeriesBars {
		st.series.Bars = st.series.Bars[len(st.series.Bars)-maxSeriesBars:]
	}

	// 6. Circuit breaker on full-SL hits this session.
	if max := p.cfg.Risk.MaxFullSLHitsPerSession; max > 0 && p.sessions.Counters().FullSLHits >= max {
		p.logger.Warn("circuit_breaker_tripped",
			zap.String("symbol", symbol),
			zap.Int("full_sl_hits", p.sessions.Counters().FullSLHits),
			zap.Int("max_full_sl_hits_per_session", max))
		return nil
	}

	// 7. Volatility pause: auto-resume, active check, trigger check.
	p.sessions.ResumeIfElapsed(now)
	if p.sessions.Paused(now) {
		p.logger.Info("volatility_pause_active",
			zap.String("symbol", symbol),
			zap.Time("timestamp", now))
		return nil
	}
	p.checkVolatility(ctx, symbol, st, now)
	if p.sessions.Paused(now) {
		return nil
	}

	// 8. Pre-filters: bar depth and ATR availability.
	if st.series.Len() < p.minBars {
		return nil
	}
	atr, ok := indicators.ATR(st.series.Bars, p.atrWindow)
	if !ok || atr.IsZero() {
		return nil
	}
	st.atrHistory = append(st.atrHistory, atr)
	if lb := p.sessions.VolatilityLookbackBars(); lb > 0 && len(st.atrHistory) > lb {
		st.atrHistory = st.atrHistory[len(st.atrHistory)-lb:]
	}

	// 9. Structure detection.
	sessionID := p.sessions.SessionID(now)
	structures := p.manager.Detect(&st.series, sessionID)
	for _, s := range structures {
		metrics.StructuresDetected.WithLabelValues(symbol, string(s.Type), string(s.Direction)).Inc()
	}
	p.sessions.Counters().DecisionsAttempted += len(structures)
	if len(structures) == 0 {
		p.heartbeat(symbol, now)
		return nil
	}

	// 10. Decision generation via the exit planner.
	decisions := p.generateDecisions(symbol, st, structures, atr, now, sessionID)

	// 11. Deduplicate to the highest-confidence decision per bar.
	if len(decisions) > 1 {
		best := decisions[0]
		for _, d := range decisions[1:] {
			if d.Confidence.GreaterThan(best.Confidence) {
				best = d
			}
		}
		p.logger.Info("decisions_deduplicated",
			zap.String("symbol", symbol),
			zap.Int("candidates", len(decisions)),
			zap.String("kept_structure_id", best.StructureID))
		decisions = []types.Decision{best}
	}

	// 12-15. Size, gate, execute.
	executed := p.executeDecisions(ctx, symbol, st, decisions, equity, now)

	// Onboarding counters always observe the bar's decisions.
	p.onboarding.RecordDecisions(symbol, decisions, sessionID, 0, now)

	// 16. Session counters and heartbeat.
	p.sessions.Counters().DecisionsAccepted += executed
	p.stats.DecisionsGenerated += len(decisions)
	p.allDecisions = append(p.allDecisions, decisions...)
	p.heartbeat(symbol, now)

	return decisions
}

// reconcile pulls closing deals since the last scan and records outcomes.
func (p *Pipeline) reconcile(ctx context.Context, symbol string, now time.Time) {
	from := p.lastDealScan
	if from.IsZero() {
		from = now.Add(-24 * time.Hour)
	}
	deals, err := p.gateway.HistoryDeals(ctx, from, now)
	if err != nil {
		p.logger.Warn("deal_history_unavailable", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	p.lastDealScan = now

	point := decimal.Zero
	if meta, ok := p.symbolMeta[symbol]; ok {
		point = meta.Point
	}

	for _, d := range deals {
		if d.Entry != types.DealEntryOut {
			continue
		}
		entry, hadEntry := p.journal.CachedEntry(d.PositionTicket)

		reason := journal.ClassifyExitReason(d.Comment)
		outcome := p.journal.RecordOutcome(d.PositionTicket, d.Symbol, d.Price, d.Profit, d.Volume, reason, point, d.Timestamp)
		if outcome == nil {
			continue
		}
		p.logger.Info("position_closed",
			zap.Int64("ticket", d.PositionTicket),
			zap.String("symbol", d.Symbol),
			zap.String("price", d.Price.String()),
			zap.String("profit", d.Profit.String()),
			zap.String("comment", d.Comment))
		metrics.TradeOutcomes.WithLabelValues(d.Symbol, outcome.Result).Inc()
		if p.onOutcome != nil {
			p.onOutcome(*outcome)
		}

		if reason == journal.ExitSLHit {
			p.sessions.Counters().FullSLHits++
		}

		if hadEntry {
			meta, ok := p.symbolMeta[entry.Symbol]
			if ok {
				stopPts := entry.EntryPrice.Sub(entry.StopLoss).Abs().Div(meta.Point)
				released := stopPts.Mul(meta.ContractSize.Mul(meta.Point)).Mul(entry.Volume)
				p.ledger.Release(entry.Symbol, released)
				metrics.OpenRisk.WithLabelValues(entry.Symbol).Set(p.ledger.Open(entry.Symbol).InexactFloat64())
			}
		}
	}
}

// checkVolatility feeds current spread and ATR against their baselines.
func (p *Pipeline) checkVolatility(ctx context.Context, symbol string, st *symbolState, now time.Time) {
	if !p.sessions.VolatilityPauseEnabled() {
		return
	}
	tick, err := p.gateway.Tick(ctx, symbol)
	if err != nil {
		return
	}
	spread := tick.Spread()

	baselineSpread := decimal.Zero
	if len(st.spreads) > 0 {
		sum := decimal.Zero
		for _, s := range st.spreads {
			sum = sum.Add(s)
		}
		baselineSpread = sum.Div(decimal.NewFromInt(int64(len(st.spreads))))
	}

	atrNow := decimal.Zero
	atrBaseline := decimal.Zero
	if n := len(st.atrHistory); n > 0 {
		atrNow = st.atrHistory[n-1]
		sum := decimal.Zero
		for _, a := range st.atrHistory {
			sum = sum.Add(a)
		}
		atrBaseline = sum.Div(decimal.NewFromInt(int64(n)))
	}

	p.sessions.CheckVolatility(now, spread, baselineSpread, atrNow, atrBaseline)

	st.spreads = append(st.spreads, spread)
	if lb := p.sessions.VolatilityLookbackBars(); lb > 0 && len(st.spreads) > lb {
		st.spreads = st.spreads[len(st.spreads)-lb:]
	}
}

// generateDecisions converts structures into planned decisions.
func (p *Pipeline) generateDecisions(symbol string, st *symbolState, structures []types.Structure, atr decimal.Decimal, now time.Time, sessionID string) []types.Decision {
	latest, ok := st.series.Latest()
	if !ok {
		return nil
	}
	entry := latest.Close

	nearest := nearestByType(structures, entry)
	pl, hasPlanner := p.planners[symbol]

	var decisions []types.Decision
	for _, s := range structures {
		decisionType := types.DecisionBuy
		if !s.IsBullish() {
			decisionType = types.DecisionSell
		}

		var sl, tp decimal.Decimal
		method := "legacy"
		expectedRR := decimal.Zero

		if hasPlanner && p.cfg.SLTP.Enabled {
			if plan := pl.Plan(decisionType, entry, atr, nearest); plan != nil {
				sl, tp = plan.StopLoss, plan.TakeProfit
				method = plan.Method
				expectedRR = plan.ExpectedRR
			}
		}

		// Legacy fallback keeps the bar productive when planning is off.
		if sl.IsZero() || tp.IsZero() {
			if !p.cfg.SLTP.Enabled {
				rangeBuf := s.PriceRange().Mul(decimal.NewFromFloat(0.1))
				ext := s.PriceRange().Mul(decimal.NewFromInt(2))
				if decisionType == types.DecisionBuy {
					sl = s.LowPrice.Sub(rangeBuf)
					tp = entry.Add(ext)
				} else {
					sl = s.HighPrice.Add(rangeBuf)
					tp = entry.Sub(ext)
				}
			} else {
				// Planner enabled but no method survived: no decision.
				continue
			}
		}

		// Safety clamp: planner output must never collide with the entry.
		epsilon := utils.MaxDecimal(decimal.New(1, -5), s.PriceRange().Mul(decimal.NewFromFloat(0.01)))
		var riskDist, rewardDist decimal.Decimal
		if decisionType == types.DecisionBuy {
			if sl.GreaterThanOrEqual(entry) {
				sl = entry.Sub(epsilon)
			}
			if tp.LessThanOrEqual(entry) {
				tp = entry.Add(epsilon)
			}
			riskDist = entry.Sub(sl)
			rewardDist = tp.Sub(entry)
		} else {
			if sl.LessThanOrEqual(entry) {
				sl = entry.Add(epsilon)
			}
			if tp.GreaterThanOrEqual(entry) {
				tp = entry.Sub(epsilon)
			}
			riskDist = sl.Sub(entry)
			rewardDist = entry.Sub(tp)
		}
		if riskDist.Sign() <= 0 {
			continue
		}
		rr := rewardDist.Div(riskDist)
		if expectedRR.IsZero() {
			expectedRR = rr
		}

		d := types.Decision{
			Type:        decisionType,
			Symbol:      symbol,
			Timestamp:   now,
			SessionID:   sessionID,
			Entry:       entry,
			StopLoss:    sl,
			TakeProfit:  tp,
			RiskReward:  rr,
			StructureID: s.ID,
			Confidence:  s.QualityScore,
			Reasoning:   string(s.Type),
			Status:      types.DecisionValidated,
			Metadata: map[string]any{
				"structure_type": string(s.Type),
				"direction":      string(s.Direction),
				"exit_method":    method,
				"expected_rr":    expectedRR.InexactFloat64(),
				"post_clamp_rr":  rr.InexactFloat64(),
			},
		}
		if err := d.Validate(); err != nil {
			p.logger.Warn("decision_generation_error", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		p.stats.ExitMethodHist[method]++
		decisions = append(decisions, d)
	}
	return decisions
}

// executeDecisions sizes, gates, and executes decisions. Returns the number
// of successful executions.
func (p *Pipeline) executeDecisions(ctx context.Context, symbol string, st *symbolState, decisions []types.Decision, equity decimal.Decimal, now time.Time) int {
	meta, hasMeta := p.symbolMeta[symbol]
	if !hasMeta {
		p.logger.Warn("symbol_meta_missing", zap.String("symbol", symbol))
		return 0
	}

	executed := 0
	for _, d := range decisions {
		if !d.IsEntry() {
			continue
		}

		// Daily stops gate the executed-decision path directly; the hard
		// transition flattens the symbol once.
		if blocked, hardHit := p.guards.CheckDailyStops(equity); blocked {
			if hardHit {
				p.executor.CloseAll(ctx, []string{symbol})
			}
			continue
		}
		if p.guards.ObserveEquityFTMO(equity) {
			continue
		}
		if p.guards.FailuresSaturated(now) {
			p.logger.Warn("send_failures_saturated",
				zap.String("symbol", symbol),
				zap.Int("consecutive_failures", p.guards.ConsecutiveFailures()))
			continue
		}

		if !p.onboarding.ShouldExecute(symbol) {
			p.logger.Info("symbol_onboarding_state",
				zap.String("symbol", symbol),
				zap.String("state", onboarding.StateObserveOnly),
				zap.String("reason", "observe_only_no_execution"))
			continue
		}

		riskCfg := p.onboarding.ApplyProbationOverrides(symbol, p.cfg.Risk)

		sized := p.sizer.Size(risk.SizeRequest{
			Equity:         equity,
			Entry:          d.Entry,
			StopLoss:       d.StopLoss,
			Meta:           meta,
			PerTradePct:    decimal.NewFromFloat(riskCfg.PerTradePct),
			OpenRiskCapPct: decimal.NewFromFloat(riskCfg.PerSymbolOpenRiskCapPct),
			OpenRiskBefore: p.ledger.Open(symbol),
		})
		if sized.Reject != risk.RejectNone {
			continue
		}
		d.Size = sized.Volume

		p.logger.Info("execution_sized",
			zap.String("symbol", symbol),
			zap.String("type", string(d.Type)),
			zap.String("volume", sized.Volume.String()),
			zap.String("stop_distance_pts", sized.StopDistancePts.String()),
			zap.String("new_trade_risk", sized.NewTradeRisk.String()),
			zap.String("open_risk_after", sized.OpenRiskAfter.String()))

		structureType := types.StructureType(fmt.Sprint(d.Metadata["structure_type"]))
		direction := types.Direction(fmt.Sprint(d.Metadata["direction"]))

		verdict := p.chain.Evaluate(ctx, gates.Input{
			Decision:      d,
			StructureType: structureType,
			Direction:     direction,
			Sized:         sized,
			Meta:          meta,
			BarIndex:      st.barIndex,
			Now:           now,
		})
		if !verdict.Allowed {
			metrics.GateBlocks.WithLabelValues(symbol, verdict.BlockEvent).Inc()
			continue
		}

		comment := fmt.Sprintf("SE_%s", structureType)
		result := p.executor.Execute(ctx, d, meta, comment)
		metrics.OrderSends.WithLabelValues(symbol, string(result.Retcode.Class())).Inc()

		if result.PrecheckBlock {
			// Not a broker failure: orthogonal to the cooldown counter.
			continue
		}
		if !result.Success {
			p.guards.RecordSendFailure(now)
			continue
		}
		p.guards.RecordSendSuccess()
		executed++
		p.stats.OrdersExecuted++
		metrics.DecisionsEmitted.WithLabelValues(symbol, string(d.Type)).Inc()
		if p.onDecision != nil {
			p.onDecision(d)
		}

		p.ledger.Add(symbol, sized.NewTradeRisk)
		metrics.OpenRisk.WithLabelValues(symbol).Set(p.ledger.Open(symbol).InexactFloat64())

		finalSL, finalTP := result.StopLoss, result.TakeProfit
		if finalSL.IsZero() {
			finalSL = d.StopLoss
		}
		if finalTP.IsZero() {
			finalTP = d.TakeProfit
		}
		p.journal.CacheEntry(journal.Entry{
			Ticket:           result.Ticket,
			Symbol:           symbol,
			Direction:        d.Type,
			StructureType:    string(structureType),
			EntryTime:        now,
			EntryPrice:       d.Entry,
			StopLoss:         finalSL,
			TakeProfit:       finalTP,
			Volume:           result.Volume,
			IntendedRR:       d.RiskReward,
			Magic:            p.cfg.Execution.Magic,
			Comment:          comment,
			SessionName:      verdict.SessionName,
			SessionRelevance: string(verdict.SessionRelevance),
			HTFBias:          string(verdict.HTF.Bias),
			HTFAlignment:     string(verdict.HTF.Alignment),
			HTFDistanceATR:   verdict.HTF.DistanceATR,
			HTFClearTrend:    verdict.HTF.ClearTrend,
		})
	}
	return executed
}

func (p *Pipeline) equity(ctx context.Context) decimal.Decimal {
	account, err := p.gateway.AccountInfo(ctx)
	if err != nil {
		p.logger.Warn("account_info_unavailable", zap.Error(err))
		return decimal.Zero
	}
	return account.Equity
}

func (p *Pipeline) heartbeat(symbol string, now time.Time) {
	c := p.sessions.Counters()
	p.logger.Debug("session_counters",
		zap.String("symbol", symbol),
		zap.String("session", p.sessions.Current()),
		zap.Int("decisions_attempted", c.DecisionsAttempted),
		zap.Int("decisions_accepted", c.DecisionsAccepted),
		zap.Int("full_sl_hits", c.FullSLHits),
		zap.Time("timestamp", now))
}

// nearestByType picks the structure closest to the entry per type.
func nearestByType(structures []types.Structure, entry decimal.Decimal) planner.Nearest {
	nearest := make(planner.Nearest)
	for i := range structures {
		s := &structures[i]
		cur, ok := nearest[s.Type]
		if !ok {
			nearest[s.Type] = s
			continue
		}
		if s.Midpoint().Sub(entry).Abs().LessThan(cur.Midpoint().Sub(entry).Abs()) {
			nearest[s.Type] = s
		}
	}
	return nearest
}

// FinalizeSession emits the dry-run exit summary: exit-method histogram and
// the share of decisions meeting the RR gate, overall and per method.
func (p *Pipeline) FinalizeSession(sessionName string) {
	gate := decimal.NewFromFloat(p.cfg.SLTP.MinRRGate)
	type bucket struct{ pass, total int }
	byMethod := make(map[string]*bucket)
	overall := &bucket{}

	for _, d := range p.allDecisions {
		method := fmt.Sprint(d.Metadata["exit_method"])
		b, ok := byMethod[method]
		if !ok {
			b = &bucket{}
			byMethod[method] = b
		}
		b.total++
		overall.total++
		if d.RiskReward.GreaterThanOrEqual(gate) {
			b.pass++
			overall.pass++
		}
	}

	pct := func(b *bucket) float64 {
		if b.total == 0 {
			return 0
		}
		return float64(b.pass) / float64(b.total) * 100
	}
	methodPct := make(map[string]float64, len(byMethod))
	for m, b := range byMethod {
		methodPct[m] = pct(b)
	}

	p.logger.Info("dry_run_exit_summary",
		zap.String("session", sessionName),
		zap.Any("exit_method_hist", p.stats.ExitMethodHist),
		zap.Float64("overall_rr_gate_pct", pct(overall)),
		zap.Any("rr_gate_pct_by_method", methodPct),
		zap.Any("detector_stats", p.manager.StatsSummary()))
}

// Stats returns a copy of the pipeline stats.
func (p *Pipeline) Stats() Stats { return p.stats }

// Shutdown drains the pipeline: optionally flattens positions and emits the
// final summary.
func (p *Pipeline) Shutdown(ctx context.Context, closePositions bool) {
	if closePositions {
		p.executor.CloseAll(ctx, p.cfg.Symbols)
	}
	p.FinalizeSession(p.sessions.Current())
}
