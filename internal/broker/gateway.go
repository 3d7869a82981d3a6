// Package broker defines the gateway interface to the order-routing venue
// and provides a simulated implementation for dry-run, paper, and tests.
package broker

import (
	"context"
	"time"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// Gateway is the capability set the engine needs from a broker. The decision
// pipeline only ever talks to this interface, so a mock gateway can drive
// fully reproducible runs.
type Gateway interface {
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolMeta, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
	RatesFrom(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error)
	Positions(ctx context.Context, symbol string) ([]types.Position, error)
	HistoryDeals(ctx context.Context, from, to time.Time) ([]types.Deal, error)
	OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	ClosePosition(ctx context.Context, ticket int64) (types.OrderResult, error)
	IsMarketOpen(ctx context.Context, symbol string) (bool, error)
}
