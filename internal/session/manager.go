// Package session provides UTC session window management, per-session
// counters, the volatility pause, and the symbol/session relevance filter.
package session

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Window is one UTC trading window.
type Window struct {
	Name             string
	StartMinutes     int // minutes since UTC midnight, inclusive
	EndMinutes       int // minutes since UTC midnight, inclusive
	MaxTradesPerHour int
	ScoreBonus       float64
}

// Counters are the per-session activity counters, reset on rotation.
type Counters struct {
	DecisionsAttempted int `json:"decisionsAttempted"`
	DecisionsAccepted  int `json:"decisionsAccepted"`
	FullSLHits         int `json:"fullSlHits"`
}

// Manager classifies timestamps into session windows and owns rotation,
// counters, and the volatility pause.
type Manager struct {
	logger  *zap.Logger
	windows []Window

	current     string
	counters    Counters
	pausedUntil time.Time

	pauseCfg types.VolatilityPauseConfig
}

// NewManager builds a session manager from validated configuration.
func NewManager(logger *zap.Logger, cfg types.SessionsConfig) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("session-manager"),
		pauseCfg: cfg.VolatilityPause,
	}
	for _, w := range cfg.Windows {
		start, err := utils.ParseClockUTC(w.StartUTC)
		if err != nil {
			return nil, err
		}
		end, err := utils.ParseClockUTC(w.EndUTC)
		if err != nil {
			return nil, err
		}
		m.windows = append(m.windows, Window{
			Name:             w.Name,
			StartMinutes:     start,
			EndMinutes:       end,
			MaxTradesPerHour: w.MaxTradesPerHour,
			ScoreBonus:       w.ScoreBonus,
		})
	}
	return m, nil
}

// Classify returns the first enclosing window name for a timestamp, or ""
// when no window encloses it.
func (m *Manager) Classify(ts time.Time) string {
	mins := utils.MinutesOfDayUTC(ts)
	for _, w := range m.windows {
		if w.StartMinutes <= w.EndMinutes {
			if mins >= w.StartMinutes && mins <= w.EndMinutes {
				return w.Name
			}
		} else if mins >= w.StartMinutes || mins <= w.EndMinutes {
			// window crosses midnight
			return w.Name
		}
	}
	return ""
}

// UpdateAndRotate classifies the timestamp and rotates the session when the
// boundary was crossed. Counters reset on rotation. rotated is true when the
// session changed; prev is the previous session name.
func (m *Manager) UpdateAndRotate(ts time.Time) (prev string, rotated bool) {
	cur := m.Classify(ts)
	if cur == m.current {
		return m.current, false
	}
	prev = m.current
	m.current = cur
	m.ResetCounters()
	m.logger.Info("session_rotated",
		zap.String("from", prev),
		zap.String("to", cur),
		zap.Time("timestamp", ts))
	return prev, true
}

// Current returns the active session name.
func (m *Manager) Current() string { return m.current }

// SessionID returns a stable identifier for the active session on a date.
func (m *Manager) SessionID(ts time.Time) string {
	name := m.current
	if name == "" {
		name = "OFF"
	}
	return name + "_" + ts.UTC().Format("20060102")
}

// Counters returns the mutable per-session counters.
func (m *Manager) Counters() *Counters { return &m.counters }

// ResetCounters zeroes the per-session counters.
func (m *Manager) ResetCounters() { m.counters = Counters{} }

// WindowFor returns the window definition for a session name.
func (m *Manager) WindowFor(name string) (Window, bool) {
	for _, w := range m.windows {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// CheckVolatility evaluates the pause triggers and arms the pause when the
// current spread or ATR is stretched beyond its baseline. Returns true when a
// new pause was triggered.
func (m *Manager) CheckVolatility(now time.Time, spread, baselineSpread, atrNow, atrBaseline decimal.Decimal) bool {
	if !m.pauseCfg.Enabled {
		return false
	}
	if m.Paused(now) {
		return false
	}

	spreadStretched := !baselineSpread.IsZero() &&
		spread.GreaterThan(baselineSpread.Mul(decimal.NewFromFloat(m.pauseCfg.SpreadMultiplier)))
	atrStretched := !atrBaseline.IsZero() &&
		atrNow.GreaterThan(atrBaseline.Mul(decimal.NewFromFloat(m.pauseCfg.ATRSpikeMultiplier)))

	if !spreadStretched && !atrStretched {
		return false
	}

	m.pausedUntil = now.Add(time.Duration(m.pauseCfg.MinPauseSeconds) * time.Second)
	m.logger.Warn("volatility_pause",
		zap.String("spread", spread.String()),
		zap.String("baseline_spread", baselineSpread.String()),
		zap.String("atr_now", atrNow.String()),
		zap.String("atr_baseline", atrBaseline.String()),
		zap.Bool("spread_trigger", spreadStretched),
		zap.Bool("atr_trigger", atrStretched),
		zap.Time("paused_until", m.pausedUntil))
	return true
}

// Paused reports whether the volatility pause is active at now.
func (m *Manager) Paused(now time.Time) bool {
	return !m.pausedUntil.IsZero() && now.Before(m.pausedUntil)
}

// ResumeIfElapsed clears an expired pause. Returns true when a pause was
// cleared.
func (m *Manager) ResumeIfElapsed(now time.Time) bool {
	if m.pausedUntil.IsZero() || now.Before(m.pausedUntil) {
		return false
	}
	m.pausedUntil = time.Time{}
	m.logger.Info("volatility_pause_cleared", zap.Time("timestamp", now))
	return true
}

// VolatilityLookbackBars returns the configured baseline lookback.
func (m *Manager) VolatilityLookbackBars() int { return m.pauseCfg.LookbackBars }

// VolatilityPauseEnabled reports whether the pause is configured on.
func (m *Manager) VolatilityPauseEnabled() bool { return m.pauseCfg.Enabled }
