// Package types provides shared type definitions for the trading engine.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the directional bias of a structure or decision.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBullish {
		return DirectionBearish
	}
	return DirectionBullish
}

// StructureType identifies the kind of market structure a detector produces.
type StructureType string

const (
	StructureOrderBlock       StructureType = "order_block"
	StructureFairValueGap     StructureType = "fair_value_gap"
	StructureBreakOfStructure StructureType = "break_of_structure"
	StructureSweep            StructureType = "sweep"
	StructureRejection        StructureType = "rejection"
	StructureEngulfing        StructureType = "engulfing"
)

// StructureQuality buckets a structure's quality score.
type StructureQuality string

const (
	QualityPremium StructureQuality = "premium"
	QualityHigh    StructureQuality = "high"
	QualityMedium  StructureQuality = "medium"
	QualityLow     StructureQuality = "low"
)

// LifecycleState tracks a structure through its lifetime.
type LifecycleState string

const (
	LifecycleUnfilled        LifecycleState = "unfilled"
	LifecyclePartial         LifecycleState = "partial"
	LifecycleFilled          LifecycleState = "filled"
	LifecycleExpired         LifecycleState = "expired"
	LifecycleFollowedThrough LifecycleState = "followed_through"
)

// DecisionType represents the action a decision asks for.
type DecisionType string

const (
	DecisionBuy   DecisionType = "BUY"
	DecisionSell  DecisionType = "SELL"
	DecisionClose DecisionType = "CLOSE"
	DecisionHold  DecisionType = "HOLD"
)

// DecisionStatus represents the lifecycle status of a decision.
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionValidated DecisionStatus = "validated"
	DecisionExecuted  DecisionStatus = "executed"
	DecisionRejected  DecisionStatus = "rejected"
)

// Bar represents a single OHLCV candlestick. Bars are value objects and are
// never mutated after construction.
type Bar struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate enforces the OHLC invariants.
func (b Bar) Validate() error {
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("bar at %s: high %s < low %s", b.Timestamp.Format(time.RFC3339), b.High, b.Low)
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar at %s: high must be >= open and close", b.Timestamp.Format(time.RFC3339))
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("bar at %s: low must be <= open and close", b.Timestamp.Format(time.RFC3339))
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar at %s: negative volume %s", b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// Body returns the absolute candle body size.
func (b Bar) Body() decimal.Decimal {
	return b.Close.Sub(b.Open).Abs()
}

// Range returns the high-to-low range.
func (b Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool { return b.Close.GreaterThan(b.Open) }

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool { return b.Close.LessThan(b.Open) }

// Series is an ordered sequence of bars for one symbol and timeframe.
// Timestamps are strictly increasing.
type Series struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Bars      []Bar  `json:"bars"`
}

// Append adds a bar after validating OHLC invariants and timestamp order.
func (s *Series) Append(bar Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if n := len(s.Bars); n > 0 && !bar.Timestamp.After(s.Bars[n-1].Timestamp) {
		return fmt.Errorf("series %s: non-monotonic timestamp %s (last %s)",
			s.Symbol, bar.Timestamp.Format(time.RFC3339), s.Bars[n-1].Timestamp.Format(time.RFC3339))
	}
	s.Bars = append(s.Bars, bar)
	return nil
}

// Latest returns the most recent bar. ok is false for an empty series.
func (s *Series) Latest() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Structure is an immutable market-structure record produced by a detector.
type Structure struct {
	ID           string           `json:"id"`
	Type         StructureType    `json:"type"`
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	OriginIndex  int              `json:"originIndex"`
	StartBar     Bar              `json:"startBar"`
	EndBar       Bar              `json:"endBar"`
	HighPrice    decimal.Decimal  `json:"highPrice"`
	LowPrice     decimal.Decimal  `json:"lowPrice"`
	Direction    Direction        `json:"direction"`
	Quality      StructureQuality `json:"quality"`
	QualityScore decimal.Decimal  `json:"qualityScore"`
	Lifecycle    LifecycleState   `json:"lifecycle"`
	CreatedAt    time.Time        `json:"createdAt"`
	SessionID    string           `json:"sessionId"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// IsBullish reports whether the structure supports upward movement.
func (s Structure) IsBullish() bool { return s.Direction == DirectionBullish }

// Midpoint returns the midpoint price of the structure zone.
func (s Structure) Midpoint() decimal.Decimal {
	return s.HighPrice.Add(s.LowPrice).Div(decimal.NewFromInt(2))
}

// PriceRange returns the height of the structure zone.
func (s Structure) PriceRange() decimal.Decimal {
	return s.HighPrice.Sub(s.LowPrice)
}

// StructureID derives the deterministic 16-hex-char structure identifier from
// the canonical key. Stable across platforms and runs.
func StructureID(symbol string, originIndex int, direction Direction, structureType StructureType) string {
	key := fmt.Sprintf("%s_%d_%s_%s", symbol, originIndex, direction, structureType)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Decision is an immutable trading decision emitted by the pipeline.
type Decision struct {
	Type        DecisionType    `json:"type"`
	Symbol      string          `json:"symbol"`
	Timestamp   time.Time       `json:"timestamp"`
	SessionID   string          `json:"sessionId"`
	Entry       decimal.Decimal `json:"entry"`
	StopLoss    decimal.Decimal `json:"stopLoss"`
	TakeProfit  decimal.Decimal `json:"takeProfit"`
	Size        decimal.Decimal `json:"size"`
	RiskReward  decimal.Decimal `json:"riskReward"`
	StructureID string          `json:"structureId"`
	Confidence  decimal.Decimal `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	Status      DecisionStatus  `json:"status"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Validate enforces the SL/TP side invariants for entry decisions.
func (d Decision) Validate() error {
	switch d.Type {
	case DecisionBuy:
		if !d.StopLoss.LessThan(d.Entry) || !d.TakeProfit.GreaterThan(d.Entry) {
			return fmt.Errorf("BUY %s: require sl < entry < tp (sl=%s entry=%s tp=%s)",
				d.Symbol, d.StopLoss, d.Entry, d.TakeProfit)
		}
	case DecisionSell:
		if !d.StopLoss.GreaterThan(d.Entry) || !d.TakeProfit.LessThan(d.Entry) {
			return fmt.Errorf("SELL %s: require tp < entry < sl (sl=%s entry=%s tp=%s)",
				d.Symbol, d.StopLoss, d.Entry, d.TakeProfit)
		}
	}
	return nil
}

// IsEntry reports whether the decision opens a position.
func (d Decision) IsEntry() bool {
	return d.Type == DecisionBuy || d.Type == DecisionSell
}

// SymbolMeta carries broker metadata for a symbol.
type SymbolMeta struct {
	Symbol          string          `json:"symbol"`
	Point           decimal.Decimal `json:"point"`
	Digits          int             `json:"digits"`
	ContractSize    decimal.Decimal `json:"contractSize"`
	VolumeMin       decimal.Decimal `json:"volumeMin"`
	VolumeStep      decimal.Decimal `json:"volumeStep"`
	VolumeMax       decimal.Decimal `json:"volumeMax"`
	StopsLevel      int             `json:"stopsLevel"`
	SLHardFloorPts  int             `json:"slHardFloorPoints"`
	MinStopDistance decimal.Decimal `json:"minStopDistance"`
	MaxStopDistance decimal.Decimal `json:"maxStopDistance"`
	MarginInitial   decimal.Decimal `json:"marginInitial"`
}

// PipValue returns the price value of one pip for the symbol. For 3- and
// 5-digit quotes a pip is ten points; otherwise a pip equals one point.
func (m SymbolMeta) PipValue() decimal.Decimal {
	if m.Digits == 3 || m.Digits == 5 {
		return m.Point.Mul(decimal.NewFromInt(10))
	}
	return m.Point
}

// RoundToPoint quantizes a price to the symbol point grid, rounding half-up.
func RoundToPoint(price, point decimal.Decimal) decimal.Decimal {
	if point.IsZero() {
		return price
	}
	units := price.Div(point).Round(0)
	return units.Mul(point)
}
