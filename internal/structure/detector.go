// Package structure provides market-structure detectors and their manager.
//
// A detector examines the tail of a bar series and emits tagged Structure
// records with deterministic IDs and quality scores. Detectors are stateful
// only for debounce tracking; everything they emit is a value object.
package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/indicators"
	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Stats tracks detector activity.
type Stats struct {
	Seen  int `json:"seen"`  // bars evaluated
	Fired int `json:"fired"` // structures detected
}

// Detector is the capability set every structure detector implements.
type Detector interface {
	Name() string
	Type() types.StructureType
	Detect(series *types.Series, sessionID string) ([]types.Structure, error)
	Stats() Stats
}

const debounceReset = -999

// base carries state and helpers shared by all detectors.
type base struct {
	logger             *zap.Logger
	name               string
	structureType      types.StructureType
	atrWindow          int
	debounceBars       int
	lastDetectionIndex int
	stats              Stats
}

func newBase(logger *zap.Logger, name string, st types.StructureType, atrWindow, debounceBars int) base {
	if atrWindow <= 0 {
		atrWindow = 14
	}
	return base{
		logger:             logger.Named(name),
		name:               name,
		structureType:      st,
		atrWindow:          atrWindow,
		debounceBars:       debounceBars,
		lastDetectionIndex: debounceReset,
	}
}

func (b *base) Name() string              { return b.name }
func (b *base) Type() types.StructureType { return b.structureType }
func (b *base) Stats() Stats              { return b.stats }

// atr computes the detector's ATR over the series tail. ok is false when the
// window is not filled or ATR is zero; detection skips in both cases.
func (b *base) atr(bars []types.Bar) (decimal.Decimal, bool) {
	atr, ok := indicators.ATR(bars, b.atrWindow)
	if !ok || atr.IsZero() {
		return decimal.Zero, false
	}
	return atr, true
}

// debounced reports whether the detector fired too recently to fire again.
func (b *base) debounced(barCount int) bool {
	return barCount-b.lastDetectionIndex < b.debounceBars
}

// markFired records a detection for debounce tracking.
func (b *base) markFired(barCount int) {
	b.lastDetectionIndex = barCount
	b.stats.Fired++
}

// qualityScore computes min(cap, base + ratio*scale). Every detector except
// break-of-structure, which uses a fixed 0.65, scores with this shape using
// detector-specific base and scale terms.
func qualityScore(baseScore, ratio, scale decimal.Decimal) decimal.Decimal {
	capScore := decimal.NewFromFloat(0.95)
	return utils.MinDecimal(capScore, baseScore.Add(ratio.Mul(scale)))
}

// newStructure assembles a Structure with the deterministic ID and common
// fields filled in.
func (b *base) newStructure(
	series *types.Series,
	originIndex int,
	startBar, endBar types.Bar,
	highPrice, lowPrice decimal.Decimal,
	direction types.Direction,
	quality types.StructureQuality,
	score decimal.Decimal,
	sessionID string,
	metadata map[string]any,
) types.Structure {
	return types.Structure{
		ID:           types.StructureID(series.Symbol, originIndex, direction, b.structureType),
		Type:         b.structureType,
		Symbol:       series.Symbol,
		Timeframe:    series.Timeframe,
		OriginIndex:  originIndex,
		StartBar:     startBar,
		EndBar:       endBar,
		HighPrice:    highPrice,
		LowPrice:     lowPrice,
		Direction:    direction,
		Quality:      quality,
		QualityScore: score,
		Lifecycle:    types.LifecycleUnfilled,
		CreatedAt:    endBar.Timestamp,
		SessionID:    sessionID,
		Metadata:     metadata,
	}
}
