// Package risk provides position sizing under per-trade and per-symbol
// open-risk caps, the open-risk ledger, and the equity drawdown guards.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// RejectReason explains why sizing declined a trade.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectRiskTooSmall RejectReason = "risk_too_small"
	RejectRiskCapHit   RejectReason = "risk_cap_hit"
)

// SizeRequest are the inputs to position sizing.
type SizeRequest struct {
	Equity         decimal.Decimal
	Entry          decimal.Decimal
	StopLoss       decimal.Decimal
	Meta           types.SymbolMeta
	PerTradePct    decimal.Decimal // percentage, e.g. 0.25 means 0.25%
	OpenRiskCapPct decimal.Decimal // percentage
	OpenRiskBefore decimal.Decimal // monetary open risk already carried
}

// SizeResult is the sizing outcome.
type SizeResult struct {
	Volume            decimal.Decimal `json:"volume"`
	StopDistancePts   decimal.Decimal `json:"stopDistancePoints"`
	PointValuePerLot  decimal.Decimal `json:"pointValuePerLot"`
	RiskBudget        decimal.Decimal `json:"riskBudget"`
	NewTradeRisk      decimal.Decimal `json:"newTradeRisk"`
	OpenRiskAfter     decimal.Decimal `json:"openRiskAfter"`
	Reject            RejectReason    `json:"reject,omitempty"`
}

// Sizer converts price distance into a broker-valid position size.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer builds a sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger.Named("risk-sizer")}
}

var hundred = decimal.NewFromInt(100)

// Size runs the sizing algorithm. A rejection is reported through the
// Reject field, not an error: it is a normal pipeline outcome.
func (s *Sizer) Size(req SizeRequest) SizeResult {
	res := SizeResult{}

	if req.Meta.Point.IsZero() || req.Meta.ContractSize.IsZero() {
		res.Reject = RejectRiskTooSmall
		return res
	}

	stopDistance := req.Entry.Sub(req.StopLoss).Abs()
	stopPts := stopDistance.Div(req.Meta.Point)
	res.StopDistancePts = stopPts

	if stopPts.Sign() <= 0 {
		res.Reject = RejectRiskTooSmall
		return res
	}
	if req.Meta.SLHardFloorPts > 0 && stopPts.LessThan(decimal.NewFromInt(int64(req.Meta.SLHardFloorPts))) {
		s.logger.Info("risk_too_small",
			zap.String("symbol", req.Meta.Symbol),
			zap.String("stop_distance_pts", stopPts.String()),
			zap.Int("sl_hard_floor_points", req.Meta.SLHardFloorPts))
		res.Reject = RejectRiskTooSmall
		return res
	}

	riskBudget := req.Equity.Mul(req.PerTradePct).Div(hundred)
	capBudget := req.Equity.Mul(req.OpenRiskCapPct).Div(hundred)
	res.RiskBudget = riskBudget

	pointValuePerLot := req.Meta.ContractSize.Mul(req.Meta.Point)
	res.PointValuePerLot = pointValuePerLot

	rawVolume := riskBudget.Div(stopPts.Mul(pointValuePerLot))

	volume := utils.SnapDownToStep(rawVolume, req.Meta.VolumeStep)
	volume = utils.ClampDecimal(volume, decimal.Zero, req.Meta.VolumeMax)
	if volume.LessThan(req.Meta.VolumeMin) {
		s.logger.Info("risk_too_small",
			zap.String("symbol", req.Meta.Symbol),
			zap.String("raw_volume", rawVolume.String()),
			zap.String("snapped_volume", volume.String()),
			zap.String("volume_min", req.Meta.VolumeMin.String()))
		res.Reject = RejectRiskTooSmall
		return res
	}
	res.Volume = volume

	newTradeRisk := stopPts.Mul(pointValuePerLot).Mul(volume)
	res.NewTradeRisk = newTradeRisk
	res.OpenRiskAfter = req.OpenRiskBefore.Add(newTradeRisk)

	if res.OpenRiskAfter.GreaterThan(capBudget) {
		s.logger.Info("risk_cap_hit",
			zap.String("symbol", req.Meta.Symbol),
			zap.String("open_risk_before", req.OpenRiskBefore.String()),
			zap.String("new_trade_risk", newTradeRisk.String()),
			zap.String("cap_budget", capBudget.String()))
		res.Reject = RejectRiskCapHit
		return res
	}

	return res
}

// Ledger tracks monetary open risk per symbol. It is shared across symbol
// streams and is guarded by a short critical section.
type Ledger struct {
	mu   sync.Mutex
	open map[string]decimal.Decimal
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{open: make(map[string]decimal.Decimal)}
}

// Open returns the open risk carried for a symbol.
func (l *Ledger) Open(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[symbol]
}

// Total returns the open risk across all symbols.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, v := range l.open {
		total = total.Add(v)
	}
	return total
}

// Add increases the open risk for a symbol.
func (l *Ledger) Add(symbol string, risk decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[symbol] = l.open[symbol].Add(risk)
}

// Release decreases the open risk for a symbol, clamped at zero.
func (l *Ledger) Release(symbol string, risk decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.open[symbol].Sub(risk)
	if next.Sign() < 0 {
		next = decimal.Zero
	}
	l.open[symbol] = next
}
