// Package planner provides structure-first stop-loss / take-profit planning
// with ATR fallback, broker clamping, and a minimum risk-reward gate.
package planner

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Plan is the planner's output for a single entry.
type Plan struct {
	StopLoss    decimal.Decimal `json:"sl"`
	TakeProfit  decimal.Decimal `json:"tp"`
	Method      string          `json:"method"`
	ExpectedRR  decimal.Decimal `json:"expectedRr"`
	SLRequested decimal.Decimal `json:"slRequested"`
	TPRequested decimal.Decimal `json:"tpRequested"`
	Clamped     bool            `json:"clamped"`
}

// Nearest holds the nearest structure per type, keyed by structure type.
// Missing types simply skip their planning method.
type Nearest map[types.StructureType]*types.Structure

// Planner walks the configured exit-priority list and produces the first plan
// that survives broker clamps and the RR gate.
type Planner struct {
	logger *zap.Logger

	priority           []string
	atrFallbackEnabled bool
	slATRBuffer        decimal.Decimal
	tpExtensionATR     decimal.Decimal
	minBufferPips      decimal.Decimal
	maxBufferPips      decimal.Decimal
	minRRGate          decimal.Decimal

	meta types.SymbolMeta
}

// New builds a planner for one symbol from validated configuration.
func New(logger *zap.Logger, cfg types.SLTPConfig, meta types.SymbolMeta) *Planner {
	priority := cfg.ExitPriority
	if len(priority) == 0 {
		priority = []string{"atr"}
	}
	return &Planner{
		logger:             logger.Named("exit-planner"),
		priority:           priority,
		atrFallbackEnabled: cfg.ATRFallbackEnabled,
		slATRBuffer:        decimal.NewFromFloat(cfg.SLATRBuffer),
		tpExtensionATR:     decimal.NewFromFloat(cfg.TPExtensionATR),
		minBufferPips:      decimal.NewFromFloat(cfg.MinBufferPips),
		maxBufferPips:      decimal.NewFromFloat(cfg.MaxBufferPips),
		minRRGate:          decimal.NewFromFloat(cfg.MinRRGate),
		meta:               meta,
	}
}

// MinRRGate returns the configured gate.
func (p *Planner) MinRRGate() decimal.Decimal { return p.minRRGate }

// Plan walks the priority list. Returns nil when no method produced a plan
// that clears the broker clamps and the RR gate — a normal outcome, not an
// error.
func (p *Planner) Plan(side types.DecisionType, entry, atr decimal.Decimal, nearest Nearest) *Plan {
	for _, method := range p.priority {
		var plan *Plan
		switch method {
		case "order_block", "fair_value_gap":
			plan = p.planFromStructure(method, side, entry, atr, nearest)
		case "rejection":
			plan = p.planFromRejection(side, entry, atr, nearest)
		case "atr":
			plan = p.planFromATR(side, entry, atr)
		}
		if plan == nil {
			continue
		}
		if gated := p.applyRRGate(plan, side, entry); gated != nil {
			return gated
		}
	}
	return nil
}

func (p *Planner) planFromStructure(method string, side types.DecisionType, entry, atr decimal.Decimal, nearest Nearest) *Plan {
	slBuf := p.slBuffer(atr)
	tpExt := p.tpExtensionATR.Mul(atr)

	var sl, tp decimal.Decimal

	switch method {
	case "order_block":
		ob := nearest[types.StructureOrderBlock]
		if ob == nil {
			return nil
		}
		if side == types.DecisionBuy {
			sl = ob.LowPrice.Sub(slBuf)
		} else {
			sl = ob.HighPrice.Add(slBuf)
		}
		tp = p.opposingTarget(types.StructureOrderBlock, side, nearest)
		if tp.IsZero() {
			tp = p.opposingTarget(types.StructureFairValueGap, side, nearest)
		}
		if tp.IsZero() {
			if side == types.DecisionBuy {
				tp = entry.Add(tpExt)
			} else {
				tp = entry.Sub(tpExt)
			}
		}

	case "fair_value_gap":
		fvg := nearest[types.StructureFairValueGap]
		if fvg == nil {
			return nil
		}
		gapLow, gapHigh := fvg.LowPrice, fvg.HighPrice
		if side == types.DecisionBuy {
			sl = gapLow.Sub(slBuf)
			tp = gapHigh
		} else {
			sl = gapHigh.Add(slBuf)
			tp = gapLow
		}

	default:
		return nil
	}

	// TP must land on the profitable side of entry; fall back to an ATR
	// extension while keeping the structure method.
	if side == types.DecisionBuy && tp.LessThanOrEqual(entry) {
		tp = entry.Add(tpExt)
	} else if side == types.DecisionSell && tp.GreaterThanOrEqual(entry) {
		tp = entry.Sub(tpExt)
	}

	return p.clampAndBuild(method, side, entry, sl, tp)
}

func (p *Planner) planFromRejection(side types.DecisionType, entry, atr decimal.Decimal, nearest Nearest) *Plan {
	rej := nearest[types.StructureRejection]
	if rej == nil {
		return nil
	}
	zoneLow, zoneHigh := rej.LowPrice, rej.HighPrice

	// The zone must sit on the protective side of the entry.
	if side == types.DecisionBuy && entry.LessThan(zoneLow) {
		p.logger.Debug("exit_planner_rejection_wrong_side",
			zap.String("side", string(side)),
			zap.String("entry", entry.String()),
			zap.String("zone_low", zoneLow.String()))
		return nil
	}
	if side == types.DecisionSell && entry.GreaterThan(zoneHigh) {
		p.logger.Debug("exit_planner_rejection_wrong_side",
			zap.String("side", string(side)),
			zap.String("entry", entry.String()),
			zap.String("zone_high", zoneHigh.String()))
		return nil
	}

	slBuf := p.slBuffer(atr)
	tpExt := p.tpExtensionATR.Mul(atr)

	var sl, tp decimal.Decimal
	if side == types.DecisionBuy {
		sl = zoneLow.Sub(slBuf)
		tp = entry.Add(tpExt)
	} else {
		sl = zoneHigh.Add(slBuf)
		tp = entry.Sub(tpExt)
	}
	return p.clampAndBuild("rejection", side, entry, sl, tp)
}

func (p *Planner) planFromATR(side types.DecisionType, entry, atr decimal.Decimal) *Plan {
	slBuf := p.slBuffer(atr)
	tpExt := p.tpExtensionATR.Mul(atr)

	var sl, tp decimal.Decimal
	if side == types.DecisionBuy {
		sl = entry.Sub(slBuf)
		tp = entry.Add(tpExt)
	} else {
		sl = entry.Add(slBuf)
		tp = entry.Sub(tpExt)
	}
	return p.clampAndBuild("atr", side, entry, sl, tp)
}

// opposingTarget selects a TP from the opposite edge of a nearby structure.
func (p *Planner) opposingTarget(st types.StructureType, side types.DecisionType, nearest Nearest) decimal.Decimal {
	s := nearest[st]
	if s == nil {
		return decimal.Zero
	}
	// BUY exits at the upper edge, SELL exits at the lower edge.
	if side == types.DecisionBuy {
		return s.HighPrice
	}
	return s.LowPrice
}

// slBuffer converts the ATR-scaled buffer into price units, clamped to the
// configured pip bounds.
func (p *Planner) slBuffer(atr decimal.Decimal) decimal.Decimal {
	pip := p.meta.PipValue()
	minBuf := p.minBufferPips.Mul(pip)
	maxBuf := p.maxBufferPips.Mul(pip)
	return utils.ClampDecimal(p.slATRBuffer.Mul(atr), minBuf, maxBuf)
}

// clampAndBuild applies broker clamps and assembles the plan, recording the
// pre-clamp request for execution diagnostics.
func (p *Planner) clampAndBuild(method string, side types.DecisionType, entry, sl, tp decimal.Decimal) *Plan {
	slRequested, tpRequested := sl, tp
	slC, tpC, clamped, ok := p.applyBrokerClamps(side, entry, sl, tp)
	if !ok {
		return nil
	}
	return &Plan{
		StopLoss:    slC,
		TakeProfit:  tpC,
		Method:      method,
		SLRequested: slRequested,
		TPRequested: tpRequested,
		Clamped:     clamped,
	}
}

// applyBrokerClamps rounds SL/TP to the point grid, pushes them out to the
// minimum stop distance, and caps them at the maximum stop distance. ok is
// false when the caps break the side ordering.
func (p *Planner) applyBrokerClamps(side types.DecisionType, entry, sl, tp decimal.Decimal) (outSL, outTP decimal.Decimal, clamped, ok bool) {
	point := p.meta.Point
	minStop := p.meta.MinStopDistance
	maxStop := p.meta.MaxStopDistance

	slR := types.RoundToPoint(sl, point)
	tpR := types.RoundToPoint(tp, point)
	clamped = !slR.Equal(sl) || !tpR.Equal(tp)
	sl, tp = slR, tpR

	ensure := func(price, anchor, minimum decimal.Decimal, outward int) decimal.Decimal {
		d := price.Sub(anchor).Abs()
		if d.GreaterThanOrEqual(minimum) {
			return price
		}
		delta := minimum.Sub(d)
		if outward > 0 {
			return price.Add(delta)
		}
		return price.Sub(delta)
	}

	if !minStop.IsZero() {
		slBefore, tpBefore := sl, tp
		if side == types.DecisionBuy {
			sl = ensure(sl, entry, minStop, -1)
			tp = ensure(tp, entry, minStop, +1)
		} else {
			sl = ensure(sl, entry, minStop, +1)
			tp = ensure(tp, entry, minStop, -1)
		}
		sl, tp = types.RoundToPoint(sl, point), types.RoundToPoint(tp, point)
		clamped = clamped || !sl.Equal(slBefore) || !tp.Equal(tpBefore)
	}

	if !maxStop.IsZero() {
		if entry.Sub(sl).Abs().GreaterThan(maxStop) {
			if side == types.DecisionBuy {
				sl = entry.Sub(maxStop)
			} else {
				sl = entry.Add(maxStop)
			}
			clamped = true
		}
		if tp.Sub(entry).Abs().GreaterThan(maxStop) {
			if side == types.DecisionBuy {
				tp = entry.Add(maxStop)
			} else {
				tp = entry.Sub(maxStop)
			}
			clamped = true
		}
		sl, tp = types.RoundToPoint(sl, point), types.RoundToPoint(tp, point)

		if side == types.DecisionBuy && !(sl.LessThan(entry) && entry.LessThan(tp)) {
			return decimal.Zero, decimal.Zero, clamped, false
		}
		if side == types.DecisionSell && !(tp.LessThan(entry) && entry.LessThan(sl)) {
			return decimal.Zero, decimal.Zero, clamped, false
		}
	}

	return sl, tp, clamped, true
}

// applyRRGate verifies expected RR against the gate, extending the TP to
// min_rr * risk (keeping the original SL) when the first attempt falls short.
// Returns nil when the method cannot satisfy the gate after clamping.
func (p *Planner) applyRRGate(plan *Plan, side types.DecisionType, entry decimal.Decimal) *Plan {
	risk, reward := riskReward(side, entry, plan.StopLoss, plan.TakeProfit)
	if risk.Sign() <= 0 || reward.Sign() <= 0 {
		return nil
	}

	rr := reward.Div(risk)
	if rr.GreaterThanOrEqual(p.minRRGate) {
		plan.ExpectedRR = rr
		return plan
	}

	if plan.Method != "atr" && !p.atrFallbackEnabled {
		return nil
	}

	// Extend TP to the gated reward and re-clamp.
	needed := p.minRRGate.Mul(risk)
	var newTP decimal.Decimal
	if side == types.DecisionBuy {
		newTP = entry.Add(needed)
	} else {
		newTP = entry.Sub(needed)
	}

	sl2, tp2, reclamped, ok := p.applyBrokerClamps(side, entry, plan.StopLoss, newTP)
	if !ok {
		return nil
	}
	risk2, reward2 := riskReward(side, entry, sl2, tp2)
	if risk2.Sign() <= 0 || reward2.Sign() <= 0 {
		return nil
	}
	rr2 := reward2.Div(risk2)
	if rr2.LessThan(p.minRRGate) {
		return nil
	}

	plan.StopLoss = sl2
	plan.TakeProfit = tp2
	plan.Clamped = plan.Clamped || reclamped
	plan.ExpectedRR = rr2
	return plan
}

func riskReward(side types.DecisionType, entry, sl, tp decimal.Decimal) (risk, reward decimal.Decimal) {
	if side == types.DecisionBuy {
		return entry.Sub(sl), tp.Sub(entry)
	}
	return sl.Sub(entry), entry.Sub(tp)
}
