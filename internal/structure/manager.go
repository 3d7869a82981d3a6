package structure

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// Manager orchestrates the enabled detectors and aggregates their stats.
type Manager struct {
	logger    *zap.Logger
	detectors []Detector
}

// NewManager instantiates the enabled detectors from configuration. Detector
// name collisions and invalid parameters fail construction.
func NewManager(logger *zap.Logger, cfg types.DetectorsConfig) (*Manager, error) {
	m := &Manager{logger: logger.Named("structure-manager")}

	type entry struct {
		cfg   types.DetectorConfig
		build func(*zap.Logger, types.DetectorConfig) (Detector, error)
	}
	entries := []entry{
		{cfg.OrderBlock, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewOrderBlockDetector(l, c) }},
		{cfg.FairValueGap, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewFairValueGapDetector(l, c) }},
		{cfg.BreakOfStructure, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewBreakOfStructureDetector(l, c) }},
		{cfg.Sweep, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewSweepDetector(l, c) }},
		{cfg.Rejection, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewRejectionDetector(l, c) }},
		{cfg.Engulfing, func(l *zap.Logger, c types.DetectorConfig) (Detector, error) { return NewEngulfingDetector(l, c) }},
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.cfg.Enabled {
			continue
		}
		det, err := e.build(logger, e.cfg)
		if err != nil {
			return nil, err
		}
		if seen[det.Name()] {
			return nil, config.NewConfigError("detectors", fmt.Sprintf("duplicate detector name %q", det.Name()))
		}
		seen[det.Name()] = true
		m.detectors = append(m.detectors, det)
		m.logger.Info("detector_registered",
			zap.String("detector", det.Name()),
			zap.String("structure_type", string(det.Type())))
	}

	return m, nil
}

// Detect runs every detector on the series. A failing detector is logged and
// skipped; the bar is never aborted on a single detector's error.
func (m *Manager) Detect(series *types.Series, sessionID string) []types.Structure {
	var all []types.Structure
	for _, det := range m.detectors {
		structures, err := det.Detect(series, sessionID)
		if err != nil {
			m.logger.Warn("detector_error",
				zap.String("detector", det.Name()),
				zap.String("symbol", series.Symbol),
				zap.Error(err))
			continue
		}
		all = append(all, structures...)
	}
	return all
}

// StatsSummary returns per-detector seen/fired counters.
func (m *Manager) StatsSummary() map[string]Stats {
	out := make(map[string]Stats, len(m.detectors))
	for _, det := range m.detectors {
		out[det.Name()] = det.Stats()
	}
	return out
}

// Detectors returns the registered detectors.
func (m *Manager) Detectors() []Detector { return m.detectors }
