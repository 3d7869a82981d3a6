// Package onboarding manages the per-symbol observe_only → promoted
// lifecycle and its persisted state file.
package onboarding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// State constants for a symbol's onboarding lifecycle.
const (
	StateObserveOnly = "observe_only"
	StatePromoted    = "promoted"
)

// SymbolState is the merged onboarding state for one symbol.
// Precedence: runtime state > config overrides > defaults.
type SymbolState struct {
	Symbol                     string   `json:"symbol"`
	State                      string   `json:"state"`
	ExecuteWhenPromoted        bool     `json:"execute_when_promoted"`
	ProbationMinSessions       int      `json:"probation_min_sessions"`
	ProbationMinTrades         int      `json:"probation_min_trades"`
	MaxValidationErrors        int      `json:"max_validation_errors"`
	RiskCapMultiplierProbation float64  `json:"risk_cap_multiplier_during_probation"`
	SessionsSeen               int      `json:"sessions_seen"`
	TradesSeen                 int      `json:"trades_seen"`
	ValidationErrors           int      `json:"validation_errors"`
	SeenSessions               []string `json:"seen_sessions"`
	LastPromotionTS            string   `json:"last_promotion_ts,omitempty"`
}

// Manager owns the onboarding state file. It is the only writer.
type Manager struct {
	logger    *zap.Logger
	statePath string
	cfg       map[string]types.OnboardingSymbolConfig
	state     map[string]*SymbolState
}

// NewManager loads (or initializes) onboarding state from disk.
func NewManager(logger *zap.Logger, cfg types.OnboardingConfig) (*Manager, error) {
	m := &Manager{
		logger:    logger.Named("symbol-onboarding"),
		statePath: cfg.StatePath,
		cfg:       make(map[string]types.OnboardingSymbolConfig, len(cfg.Symbols)),
		state:     make(map[string]*SymbolState),
	}
	for sym, sc := range cfg.Symbols {
		m.cfg[utils.FormatSymbol(sym)] = sc
	}

	if data, err := os.ReadFile(m.statePath); err == nil {
		if err := json.Unmarshal(data, &m.state); err != nil {
			m.logger.Warn("symbol_onboarding_load_failed",
				zap.String("path", m.statePath),
				zap.Error(err))
			m.state = make(map[string]*SymbolState)
		}
	}
	return m, nil
}

// GetState returns the merged state for a symbol, never nil.
func (m *Manager) GetState(symbol string) SymbolState {
	sym := utils.FormatSymbol(symbol)

	merged := SymbolState{
		Symbol:                     sym,
		State:                      StatePromoted,
		ExecuteWhenPromoted:        true,
		RiskCapMultiplierProbation: 1.0,
	}

	if sc, ok := m.cfg[sym]; ok {
		if sc.InitialState != "" {
			merged.State = sc.InitialState
		}
		if sc.ExecuteWhenPromoted != nil {
			merged.ExecuteWhenPromoted = *sc.ExecuteWhenPromoted
		}
		merged.ProbationMinSessions = sc.ProbationMinSessions
		merged.ProbationMinTrades = sc.ProbationMinTrades
		merged.MaxValidationErrors = sc.MaxValidationErrors
		if sc.RiskCapMultiplierProbation > 0 {
			merged.RiskCapMultiplierProbation = sc.RiskCapMultiplierProbation
		}
	}

	if rt, ok := m.state[sym]; ok {
		if rt.State != "" {
			merged.State = rt.State
		}
		merged.SessionsSeen = rt.SessionsSeen
		merged.TradesSeen = rt.TradesSeen
		merged.ValidationErrors = rt.ValidationErrors
		merged.SeenSessions = append([]string(nil), rt.SeenSessions...)
		merged.LastPromotionTS = rt.LastPromotionTS
	}

	return merged
}

// RecordDecisions updates the counters for a symbol after a bar produced
// decisions, applies the promotion rule, and persists the state atomically.
func (m *Manager) RecordDecisions(symbol string, decisions []types.Decision, sessionID string, validationErrors int, now time.Time) {
	sym := utils.FormatSymbol(symbol)
	current := m.GetState(sym)

	entry, ok := m.state[sym]
	if !ok {
		entry = &SymbolState{Symbol: sym, State: current.State}
		m.state[sym] = entry
	}

	// A distinct session counts once, and only when it produced decisions.
	if len(decisions) > 0 && sessionID != "" {
		seen := false
		for _, s := range entry.SeenSessions {
			if s == sessionID {
				seen = true
				break
			}
		}
		if !seen {
			entry.SeenSessions = append(entry.SeenSessions, sessionID)
			current.SessionsSeen++
		}
	}

	for _, d := range decisions {
		if d.IsEntry() {
			current.TradesSeen++
		}
	}
	current.ValidationErrors += validationErrors

	entry.SessionsSeen = current.SessionsSeen
	entry.TradesSeen = current.TradesSeen
	entry.ValidationErrors = current.ValidationErrors

	if entry.State != StatePromoted &&
		current.SessionsSeen >= current.ProbationMinSessions &&
		current.TradesSeen >= current.ProbationMinTrades &&
		current.ValidationErrors <= current.MaxValidationErrors {
		fromState := entry.State
		entry.State = StatePromoted
		entry.LastPromotionTS = now.UTC().Format(time.RFC3339)
		m.logger.Info("symbol_onboarding_promotion",
			zap.String("symbol", sym),
			zap.String("from_state", fromState),
			zap.String("to_state", StatePromoted),
			zap.Int("sessions_seen", current.SessionsSeen),
			zap.Int("trades_seen", current.TradesSeen),
			zap.Int("validation_errors", current.ValidationErrors))
	}

	if err := m.save(); err != nil {
		m.logger.Warn("symbol_onboarding_save_failed",
			zap.String("path", m.statePath),
			zap.Error(err))
	}
}

// ShouldExecute reports whether trades for a symbol may be executed.
func (m *Manager) ShouldExecute(symbol string) bool {
	st := m.GetState(symbol)
	return st.State == StatePromoted && st.ExecuteWhenPromoted
}

// ApplyProbationOverrides returns a derived risk config with probation caps
// applied for non-promoted symbols. The input is never mutated.
func (m *Manager) ApplyProbationOverrides(symbol string, riskCfg types.RiskConfig) types.RiskConfig {
	derived := riskCfg
	st := m.GetState(symbol)
	if st.State == StatePromoted {
		return derived
	}
	if st.RiskCapMultiplierProbation > 0 && st.RiskCapMultiplierProbation < 1.0 {
		derived.PerSymbolOpenRiskCapPct = riskCfg.PerSymbolOpenRiskCapPct * st.RiskCapMultiplierProbation
	}
	return derived
}

// LogStates emits a snapshot of every tracked symbol's onboarding state.
func (m *Manager) LogStates(symbols []string) {
	for _, sym := range symbols {
		st := m.GetState(sym)
		m.logger.Info("symbol_onboarding_state",
			zap.String("symbol", st.Symbol),
			zap.String("state", st.State),
			zap.Bool("execute_when_promoted", st.ExecuteWhenPromoted),
			zap.Int("sessions_seen", st.SessionsSeen),
			zap.Int("trades_seen", st.TradesSeen),
			zap.Int("validation_errors", st.ValidationErrors))
	}
}

// save serializes the state map and atomically replaces the state file.
func (m *Manager) save() error {
	if m.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0o755); err != nil {
		return err
	}

	// Map keys marshal in sorted order, keeping the file byte-reproducible.
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp", m.statePath)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.statePath)
}
