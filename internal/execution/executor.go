// Package execution provides the order executor: broker-stop pre-check,
// submission with requote retries, adaptive recovery from invalid-stops
// rejections, and the optional naked-entry fallback.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Mode selects how orders are routed.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModePaper  Mode = "paper"
	ModeLive   Mode = "live"
)

// Result is the outcome of one execution attempt chain.
type Result struct {
	Success       bool            `json:"success"`
	PrecheckBlock bool            `json:"precheckBlock"`
	Ticket        int64           `json:"ticket,omitempty"`
	Retcode       types.Retcode   `json:"retcode"`
	Volume        decimal.Decimal `json:"volume"`
	StopLoss      decimal.Decimal `json:"sl"`
	TakeProfit    decimal.Decimal `json:"tp"`
	Error         string          `json:"error,omitempty"`
}

// Executor routes sized decisions to the broker gateway. All outbound calls
// are serialized on the caller's goroutine; the executor holds no locks.
type Executor struct {
	logger  *zap.Logger
	gateway broker.Gateway
	mode    Mode

	cfg       types.ExecutionConfig
	stopGuard types.StopGuardConfig
	invalid   types.InvalidStopsConfig

	rpcTimeout time.Duration
}

// New builds an executor.
func New(logger *zap.Logger, gateway broker.Gateway, mode Mode, cfg types.ExecutionConfig, stopGuard types.StopGuardConfig, invalid types.InvalidStopsConfig) *Executor {
	timeout := time.Duration(cfg.RPCTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		logger:     logger.Named("executor"),
		gateway:    gateway,
		mode:       mode,
		cfg:        cfg,
		stopGuard:  stopGuard,
		invalid:    invalid,
		rpcTimeout: timeout,
	}
}

// Mode returns the executor's routing mode.
func (e *Executor) Mode() Mode { return e.mode }

// Execute submits an entry decision. Pre-check blocks are reported with
// PrecheckBlock=true and are not broker failures.
func (e *Executor) Execute(ctx context.Context, d types.Decision, meta types.SymbolMeta, comment string) Result {
	if !e.cfg.Enabled {
		return Result{Error: "executor disabled"}
	}

	if blocked := e.precheck(ctx, d, meta); blocked {
		return Result{PrecheckBlock: true, Error: "broker stop distance pre-check failed"}
	}

	e.logger.Info("order_send_attempt",
		zap.String("symbol", d.Symbol),
		zap.String("type", string(d.Type)),
		zap.String("volume", d.Size.String()),
		zap.String("entry", d.Entry.String()),
		zap.String("sl", d.StopLoss.String()),
		zap.String("tp", d.TakeProfit.String()),
		zap.String("mode", string(e.mode)))

	if e.mode == ModeDryRun || e.mode == ModePaper || !e.cfg.EnableRealOrders {
		e.logger.Info("order_send_result",
			zap.String("symbol", d.Symbol),
			zap.String("mode", string(e.mode)),
			zap.Int("retcode", int(types.RetcodeSimulated)),
			zap.String("retcode_description", types.RetcodeSimulated.Description()),
			zap.String("volume", d.Size.String()),
			zap.Bool("success", true))
		return Result{
			Success:    true,
			Retcode:    types.RetcodeSimulated,
			Volume:     d.Size,
			StopLoss:   d.StopLoss,
			TakeProfit: d.TakeProfit,
		}
	}

	return e.sendLive(ctx, d, meta, comment)
}

// precheck validates SL/TP distance against the broker's effective minimum,
// measured from the live bid/ask reference. A block here is orthogonal to the
// consecutive-failure cooldown.
func (e *Executor) precheck(ctx context.Context, d types.Decision, meta types.SymbolMeta) bool {
	if !e.stopGuard.Enabled || !e.stopGuard.UseTickBasedValidation {
		return false
	}

	tick, err := e.tick(ctx, d.Symbol)
	if err != nil {
		e.logger.Warn("broker_stop_check_failed",
			zap.String("symbol", d.Symbol),
			zap.String("reason", "tick_unavailable"),
			zap.Error(err))
		return false
	}

	point := meta.Point
	if point.IsZero() {
		return false
	}
	spreadPts := tick.Spread().Div(point)
	minRequired := e.minRequiredPts(d.Symbol, spreadPts,
		e.stopGuard.TickSpreadMultiplier, e.stopGuard.TickSpreadBufferPoints, 0)

	ref := tick.Ask
	slDist := ref.Sub(d.StopLoss).Div(point)
	tpDist := d.TakeProfit.Sub(ref).Div(point)
	if d.Type == types.DecisionSell {
		ref = tick.Bid
		slDist = d.StopLoss.Sub(ref).Div(point)
		tpDist = ref.Sub(d.TakeProfit).Div(point)
	}

	if slDist.LessThan(minRequired) {
		e.logger.Warn("sl_too_close_for_broker",
			zap.String("symbol", d.Symbol),
			zap.String("order_type", string(d.Type)),
			zap.String("reference_price", ref.String()),
			zap.String("spread_pts", spreadPts.String()),
			zap.String("min_required_pts", minRequired.String()),
			zap.String("actual_sl_distance_pts", slDist.String()),
			zap.String("shortfall_pts", minRequired.Sub(slDist).String()))
		return true
	}
	if tpDist.LessThan(minRequired) {
		e.logger.Warn("tp_too_close_for_broker",
			zap.String("symbol", d.Symbol),
			zap.String("order_type", string(d.Type)),
			zap.String("reference_price", ref.String()),
			zap.String("spread_pts", spreadPts.String()),
			zap.String("min_required_pts", minRequired.String()),
			zap.String("actual_tp_distance_pts", tpDist.String()),
			zap.String("shortfall_pts", minRequired.Sub(tpDist).String()))
		return true
	}
	return false
}

// minRequiredPts computes max(symbol_floor, spread*mult + buffer) + extra.
func (e *Executor) minRequiredPts(symbol string, spreadPts decimal.Decimal, mult, buffer, extra float64) decimal.Decimal {
	floor := e.stopGuard.DefaultSymbolFloorPts
	if pts, ok := e.stopGuard.SymbolFloorPoints[symbol]; ok {
		floor = pts
	}
	dynamic := spreadPts.Mul(decimal.NewFromFloat(mult)).Add(decimal.NewFromFloat(buffer))
	min := utils.MaxDecimal(decimal.NewFromInt(int64(floor)), dynamic)
	if extra > 0 {
		min = min.Add(decimal.NewFromFloat(extra))
	}
	return min
}

// sendLive drives the live submission loop: requote retries, adaptive
// invalid-stops recovery, and the optional naked-entry fallback.
func (e *Executor) sendLive(ctx context.Context, d types.Decision, meta types.SymbolMeta, comment string) Result {
	req := types.OrderRequest{
		Action:      types.ActionDeal,
		Symbol:      d.Symbol,
		Type:        d.Type,
		Volume:      d.Size,
		Price:       d.Entry,
		StopLoss:    types.RoundToPoint(d.StopLoss, meta.Point),
		TakeProfit:  types.RoundToPoint(d.TakeProfit, meta.Point),
		Deviation:   e.cfg.DeviationPoints,
		Magic:       e.cfg.Magic,
		Comment:     comment,
		TypeFilling: types.FillingFOK,
	}

	maxAttempts := e.cfg.MaxRequotes + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last types.OrderResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.orderSend(ctx, req)
		if err != nil {
			// A transport error counts as a failure for the cooldown.
			e.logger.Error("order_send_error",
				zap.String("symbol", d.Symbol),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return Result{Error: err.Error(), Volume: req.Volume, StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}
		}
		last = result

		e.logger.Info("order_send_result",
			zap.String("symbol", d.Symbol),
			zap.String("mode", string(e.mode)),
			zap.Int64("ticket", result.Ticket),
			zap.Int("retcode", int(result.Retcode)),
			zap.String("retcode_description", result.Description),
			zap.String("volume", req.Volume.String()),
			zap.String("sl", req.StopLoss.String()),
			zap.String("tp", req.TakeProfit.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Bool("success", result.Retcode == types.RetcodeDone))

		if result.Retcode == types.RetcodeDone {
			return Result{Success: true, Ticket: result.Ticket, Retcode: result.Retcode, Volume: req.Volume, StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}
		}

		if result.Retcode == types.RetcodeRequote && attempt < maxAttempts {
			continue
		}

		if result.Retcode == types.RetcodeInvalidStops && attempt < maxAttempts && e.invalid.EnableAdaptiveRetry {
			if e.adaptStops(ctx, d, meta, &req) {
				continue
			}
		}

		break
	}

	if last.Retcode == types.RetcodeInvalidStops && e.invalid.EnableNakedEntryFallback {
		return e.nakedEntryFallback(ctx, d, meta, req)
	}

	return Result{Retcode: last.Retcode, Error: last.Description, Volume: req.Volume, StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}
}

// adaptStops widens SL/TP using the retry multipliers, re-anchors them to the
// live bid/ask, and rescales volume to preserve the original monetary risk.
// Returns false when the tick is unavailable, in which case the loop stops.
func (e *Executor) adaptStops(ctx context.Context, d types.Decision, meta types.SymbolMeta, req *types.OrderRequest) bool {
	e.logger.Warn("order_send_invalid_stops_retry",
		zap.String("symbol", d.Symbol),
		zap.String("reason", "refetching tick and re-anchoring stops to bid/ask"))

	tick, err := e.tick(ctx, d.Symbol)
	if err != nil || meta.Point.IsZero() {
		e.logger.Warn("order_send_stop_adjustment_failed",
			zap.String("symbol", d.Symbol),
			zap.Error(err))
		return false
	}

	point := meta.Point
	spreadPts := tick.Spread().Div(point)
	minRequired := e.minRequiredPts(d.Symbol, spreadPts,
		e.invalid.RetryTickSpreadMult, e.invalid.RetryTickSpreadBufferPts, e.invalid.RetrySafetyMarginPts)
	offset := minRequired.Mul(point)

	originalSL := req.StopLoss
	var newSL, newTP, ref decimal.Decimal
	if d.Type == types.DecisionBuy {
		ref = tick.Ask
		newSL = types.RoundToPoint(ref.Sub(offset), point)
		newTP = types.RoundToPoint(ref.Add(offset), point)
	} else {
		ref = tick.Bid
		newSL = types.RoundToPoint(ref.Add(offset), point)
		newTP = types.RoundToPoint(ref.Sub(offset), point)
	}
	req.StopLoss = newSL
	req.TakeProfit = newTP

	// Preserve monetary risk: volume scales by old/new SL distance.
	oldDist := originalSL.Sub(d.Entry).Abs()
	newDist := newSL.Sub(d.Entry).Abs()
	if oldDist.Sign() > 0 && newDist.Sign() > 0 {
		scaled := req.Volume.Mul(oldDist).Div(newDist)
		scaled = utils.SnapToStep(scaled, meta.VolumeStep)
		scaled = utils.ClampDecimal(scaled, meta.VolumeMin, meta.VolumeMax)

		e.logger.Info("order_send_volume_rescaled",
			zap.String("symbol", d.Symbol),
			zap.String("original_volume", req.Volume.String()),
			zap.String("new_volume", scaled.String()),
			zap.String("original_sl_distance_pts", oldDist.Div(point).String()),
			zap.String("new_sl_distance_pts", newDist.Div(point).String()))
		req.Volume = scaled
	}

	e.logger.Info("order_send_stops_adjusted",
		zap.String("symbol", d.Symbol),
		zap.String("bid", tick.Bid.String()),
		zap.String("ask", tick.Ask.String()),
		zap.String("spread_pts", spreadPts.String()),
		zap.String("min_required_pts", minRequired.String()),
		zap.String("reference_price", ref.String()),
		zap.String("new_sl", newSL.String()),
		zap.String("new_tp", newTP.String()),
		zap.String("new_volume", req.Volume.String()))
	return true
}

// nakedEntryFallback submits the entry without stops, then attaches the
// intended SL/TP with a modify request. On modify failure the position is
// optionally flattened rather than left unprotected.
func (e *Executor) nakedEntryFallback(ctx context.Context, d types.Decision, meta types.SymbolMeta, req types.OrderRequest) Result {
	intendedSL, intendedTP := req.StopLoss, req.TakeProfit

	e.logger.Warn("order_send_invalid_stops_fallback_naked_entry",
		zap.String("symbol", d.Symbol),
		zap.String("volume", req.Volume.String()),
		zap.String("entry", req.Price.String()),
		zap.String("sl_intended", intendedSL.String()),
		zap.String("tp_intended", intendedTP.String()))

	naked := req
	naked.StopLoss = decimal.Zero
	naked.TakeProfit = decimal.Zero

	result, err := e.orderSend(ctx, naked)
	if err != nil {
		return Result{Error: err.Error(), Volume: req.Volume}
	}

	e.logger.Info("order_send_result",
		zap.String("symbol", d.Symbol),
		zap.String("mode", string(e.mode)),
		zap.Int64("ticket", result.Ticket),
		zap.Int("retcode", int(result.Retcode)),
		zap.String("retcode_description", result.Description),
		zap.String("volume", naked.Volume.String()),
		zap.Bool("naked_entry", true),
		zap.Bool("success", result.Retcode == types.RetcodeDone))

	if result.Retcode != types.RetcodeDone {
		return Result{Retcode: result.Retcode, Error: result.Description, Volume: naked.Volume}
	}

	ticket := result.Ticket
	if ticket == 0 {
		ticket = e.locatePosition(ctx, d, naked)
	}
	if ticket == 0 {
		e.logger.Error("order_send_fallback_position_not_found",
			zap.String("symbol", d.Symbol))
		return Result{Success: true, Retcode: result.Retcode, Volume: naked.Volume}
	}

	modify := types.OrderRequest{
		Action:     types.ActionSLTP,
		Symbol:     d.Symbol,
		Position:   ticket,
		StopLoss:   intendedSL,
		TakeProfit: intendedTP,
	}
	modifyResult, err := e.orderSend(ctx, modify)
	modifyOK := err == nil && modifyResult.Retcode == types.RetcodeDone

	e.logger.Info("order_send_fallback_sltp_modify_result",
		zap.String("symbol", d.Symbol),
		zap.Int64("ticket", ticket),
		zap.Int("retcode", int(modifyResult.Retcode)),
		zap.String("retcode_description", modifyResult.Description),
		zap.String("sl", intendedSL.String()),
		zap.String("tp", intendedTP.String()),
		zap.Bool("success", modifyOK))

	if !modifyOK {
		e.logger.Error("order_send_fallback_position_unprotected",
			zap.String("symbol", d.Symbol),
			zap.Int64("ticket", ticket),
			zap.Bool("close_on_modify_failure", e.invalid.CloseOnModifyFailure))
		if e.invalid.CloseOnModifyFailure {
			closeResult, closeErr := e.closePosition(ctx, ticket)
			e.logger.Warn("order_send_fallback_position_closed",
				zap.String("symbol", d.Symbol),
				zap.Int64("ticket", ticket),
				zap.Int("retcode", int(closeResult.Retcode)),
				zap.Error(closeErr))
			return Result{Retcode: types.RetcodeInvalidStops, Error: "naked entry closed after modify failure", Volume: naked.Volume}
		}
		return Result{Success: true, Ticket: ticket, Retcode: result.Retcode, Volume: naked.Volume}
	}

	return Result{Success: true, Ticket: ticket, Retcode: result.Retcode, Volume: naked.Volume, StopLoss: intendedSL, TakeProfit: intendedTP}
}

// locatePosition finds a freshly opened position by matching symbol, side,
// magic, and volume.
func (e *Executor) locatePosition(ctx context.Context, d types.Decision, req types.OrderRequest) int64 {
	positions, err := e.positions(ctx, d.Symbol)
	if err != nil {
		return 0
	}
	for _, p := range positions {
		if p.Symbol == d.Symbol && p.Type == d.Type && p.Magic == req.Magic && p.Volume.Equal(req.Volume) {
			return p.Ticket
		}
	}
	return 0
}

// CloseAll flattens every open position for the given symbols.
func (e *Executor) CloseAll(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		positions, err := e.positions(ctx, sym)
		if err != nil {
			e.logger.Warn("close_positions_list_failed",
				zap.String("symbol", sym),
				zap.Error(err))
			continue
		}
		for _, p := range positions {
			result, err := e.closePosition(ctx, p.Ticket)
			e.logger.Info("position_close_requested",
				zap.String("symbol", sym),
				zap.Int64("ticket", p.Ticket),
				zap.Int("retcode", int(result.Retcode)),
				zap.Error(err))
		}
	}
}

func (e *Executor) tick(ctx context.Context, symbol string) (types.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return e.gateway.Tick(ctx, symbol)
}

func (e *Executor) orderSend(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return e.gateway.OrderSend(ctx, req)
}

func (e *Executor) positions(ctx context.Context, symbol string) ([]types.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return e.gateway.Positions(ctx, symbol)
}

func (e *Executor) closePosition(ctx context.Context, ticket int64) (types.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()
	return e.gateway.ClosePosition(ctx, ticket)
}
