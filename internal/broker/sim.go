package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// SimGateway is an in-memory broker used for dry-run and paper modes and for
// tests. Ticks, account state, and scripted retcodes are injectable so runs
// are fully reproducible.
type SimGateway struct {
	logger *zap.Logger

	mu         sync.Mutex
	equity     decimal.Decimal
	freeMargin decimal.Decimal
	symbols    map[string]types.SymbolMeta
	ticks      map[string]types.Tick
	positions  map[int64]types.Position
	deals      []types.Deal
	nextTicket int64
	marketOpen bool

	// ScriptedRetcodes are consumed in order by OrderSend before the default
	// success path; used to exercise requote/invalid-stops recovery.
	ScriptedRetcodes []types.Retcode
}

// NewSimGateway builds a simulated gateway with starting equity.
func NewSimGateway(logger *zap.Logger, equity decimal.Decimal) *SimGateway {
	return &SimGateway{
		logger:     logger.Named("sim-gateway"),
		equity:     equity,
		freeMargin: equity,
		symbols:    make(map[string]types.SymbolMeta),
		ticks:      make(map[string]types.Tick),
		positions:  make(map[int64]types.Position),
		nextTicket: 1000,
		marketOpen: true,
	}
}

// RegisterSymbol installs broker metadata for a symbol.
func (g *SimGateway) RegisterSymbol(meta types.SymbolMeta) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbols[meta.Symbol] = meta
}

// SetTick installs the current quote for a symbol.
func (g *SimGateway) SetTick(tick types.Tick) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ticks[tick.Symbol] = tick
}

// SetEquity overrides the account equity.
func (g *SimGateway) SetEquity(equity decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
	g.freeMargin = equity
}

// SetMarketOpen toggles the market-open flag.
func (g *SimGateway) SetMarketOpen(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marketOpen = open
}

// AccountInfo returns the simulated account snapshot.
func (g *SimGateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	level := decimal.NewFromInt(1000)
	return types.AccountInfo{
		Equity:      g.equity,
		Balance:     g.equity,
		FreeMargin:  g.freeMargin,
		MarginLevel: level,
	}, nil
}

// SymbolInfo returns registered metadata for a symbol.
func (g *SimGateway) SymbolInfo(ctx context.Context, symbol string) (types.SymbolMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	meta, ok := g.symbols[symbol]
	if !ok {
		return types.SymbolMeta{}, fmt.Errorf("sim gateway: unknown symbol %s", symbol)
	}
	return meta, nil
}

// Tick returns the current quote for a symbol.
func (g *SimGateway) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tick, ok := g.ticks[symbol]
	if !ok {
		return types.Tick{}, fmt.Errorf("sim gateway: no tick for %s", symbol)
	}
	return tick, nil
}

// RatesFrom is not served by the simulator; the datafeed owns history.
func (g *SimGateway) RatesFrom(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	return nil, nil
}

// Positions lists open positions, optionally filtered by symbol.
func (g *SimGateway) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Position
	for _, p := range g.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// HistoryDeals lists deals within the window.
func (g *SimGateway) HistoryDeals(ctx context.Context, from, to time.Time) ([]types.Deal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Deal
	for _, d := range g.deals {
		if !d.Timestamp.Before(from) && !d.Timestamp.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

// OrderSend accepts the order, consuming scripted retcodes first.
func (g *SimGateway) OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.ScriptedRetcodes) > 0 {
		code := g.ScriptedRetcodes[0]
		g.ScriptedRetcodes = g.ScriptedRetcodes[1:]
		if code != types.RetcodeDone {
			return types.OrderResult{
				Retcode:     code,
				Description: code.Description(),
			}, nil
		}
	}

	if req.Action == types.ActionSLTP {
		pos, ok := g.positions[req.Position]
		if !ok {
			return types.OrderResult{Retcode: types.RetcodeInvalidStops, Description: "position not found"}, nil
		}
		pos.StopLoss = req.StopLoss
		pos.TakeProfit = req.TakeProfit
		g.positions[req.Position] = pos
		return types.OrderResult{Retcode: types.RetcodeDone, Description: types.RetcodeDone.Description(), Ticket: req.Position}, nil
	}

	g.nextTicket++
	ticket := g.nextTicket

	tick := g.ticks[req.Symbol]
	fill := tick.Ask
	if req.Type == types.DecisionSell {
		fill = tick.Bid
	}
	if fill.IsZero() {
		fill = req.Price
	}

	g.positions[ticket] = types.Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Type:       req.Type,
		Volume:     req.Volume,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Magic:      req.Magic,
		OpenedAt:   tick.Timestamp,
	}
	g.deals = append(g.deals, types.Deal{
		Ticket:         ticket,
		PositionTicket: ticket,
		Symbol:         req.Symbol,
		Type:           req.Type,
		Entry:          types.DealEntryIn,
		Volume:         req.Volume,
		Price:          fill,
		Comment:        req.Comment,
		Timestamp:      tick.Timestamp,
	})

	return types.OrderResult{
		Retcode:     types.RetcodeDone,
		Description: types.RetcodeDone.Description(),
		Ticket:      ticket,
		Volume:      req.Volume,
		Price:       fill,
	}, nil
}

// ClosePosition closes an open position at the current quote and records the
// closing deal.
func (g *SimGateway) ClosePosition(ctx context.Context, ticket int64) (types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[ticket]
	if !ok {
		return types.OrderResult{Retcode: types.RetcodeMarketClosed, Description: "position not found"}, nil
	}
	delete(g.positions, ticket)

	tick := g.ticks[pos.Symbol]
	price := tick.Bid
	if pos.Type == types.DecisionSell {
		price = tick.Ask
	}

	g.deals = append(g.deals, types.Deal{
		Ticket:         ticket,
		PositionTicket: ticket,
		Symbol:         pos.Symbol,
		Type:           pos.Type,
		Entry:          types.DealEntryOut,
		Volume:         pos.Volume,
		Price:          price,
		Comment:        "manual close",
		Timestamp:      tick.Timestamp,
	})

	return types.OrderResult{Retcode: types.RetcodeDone, Description: types.RetcodeDone.Description(), Ticket: ticket, Price: price}, nil
}

// ClosePositionWithComment closes a position recording a specific deal
// comment; used by tests to simulate SL/TP exits.
func (g *SimGateway) ClosePositionWithComment(ticket int64, price decimal.Decimal, profit decimal.Decimal, comment string, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[ticket]
	if !ok {
		return
	}
	delete(g.positions, ticket)
	g.deals = append(g.deals, types.Deal{
		Ticket:         ticket,
		PositionTicket: ticket,
		Symbol:         pos.Symbol,
		Type:           pos.Type,
		Entry:          types.DealEntryOut,
		Volume:         pos.Volume,
		Price:          price,
		Profit:         profit,
		Comment:        comment,
		Timestamp:      ts,
	})
}

// IsMarketOpen reports the simulated market flag.
func (g *SimGateway) IsMarketOpen(ctx context.Context, symbol string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marketOpen, nil
}
