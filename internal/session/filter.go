package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
	"github.com/atlasfx/trading-engine/pkg/utils"
)

// Relevance grades how well a session suits a symbol.
type Relevance string

const (
	RelevanceIdeal      Relevance = "ideal"
	RelevanceAcceptable Relevance = "acceptable"
	RelevanceAvoid      Relevance = "avoid"
	RelevanceUnknown    Relevance = "unknown"
)

// Filter classifies trade attempts by trading session and symbol relevance.
// In log_only mode it never blocks; enforce mode blocks "avoid" combinations.
type Filter struct {
	logger  *zap.Logger
	enabled bool
	mode    string
	rules   map[string]types.SessionRelevanceSet

	// Named UTC windows in priority order: overlap first, then majors.
	windows []filterWindow
}

type filterWindow struct {
	name         string
	startMinutes int
	endMinutes   int
}

// Default session clock (UTC, no DST adjustment): Asia 00:00-08:00,
// London 07:00-16:00, NY 13:00-21:00, London_NY overlap 13:00-16:00.
var defaultFilterWindows = []filterWindow{
	{"London_NY", 13 * 60, 16 * 60},
	{"London", 7 * 60, 16 * 60},
	{"NY", 13 * 60, 21 * 60},
	{"Asia", 0, 8 * 60},
}

// DefaultSymbolRules mirror the hand-tuned per-pair session preferences.
var DefaultSymbolRules = map[string]types.SessionRelevanceSet{
	"EURUSD": {Ideal: []string{"London", "NY", "London_NY"}, Acceptable: []string{"Asia"}},
	"GBPUSD": {Ideal: []string{"London", "NY", "London_NY"}, Avoid: []string{"Asia"}},
	"USDJPY": {Ideal: []string{"Asia", "NY", "London_NY"}, Acceptable: []string{"London"}},
	"AUDUSD": {Ideal: []string{"Asia", "London"}, Acceptable: []string{"NY"}},
	"NZDUSD": {Ideal: []string{"Asia", "London"}, Acceptable: []string{"NY"}},
	"AUDJPY": {Ideal: []string{"Asia"}, Acceptable: []string{"London"}, Avoid: []string{"NY"}},
	"XAUUSD": {Ideal: []string{"London", "NY", "London_NY"}, Avoid: []string{"Asia"}},
}

// NewFilter builds a session filter. Config rules override the defaults
// per symbol; unset symbols keep defaults.
func NewFilter(logger *zap.Logger, cfg types.SessionFilterConfig) *Filter {
	rules := make(map[string]types.SessionRelevanceSet, len(DefaultSymbolRules))
	for sym, r := range DefaultSymbolRules {
		rules[sym] = r
	}
	for sym, r := range cfg.SymbolRules {
		rules[utils.FormatSymbol(sym)] = r
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "log_only"
	}
	return &Filter{
		logger:  logger.Named("session-filter"),
		enabled: cfg.Enabled,
		mode:    mode,
		rules:   rules,
		windows: defaultFilterWindows,
	}
}

// CurrentSession returns the active named session for a UTC timestamp, or
// "Off_Hours". Priority: London_NY overlap > London > NY > Asia.
func (f *Filter) CurrentSession(ts time.Time) string {
	mins := utils.MinutesOfDayUTC(ts)
	for _, w := range f.windows {
		if w.startMinutes <= w.endMinutes {
			if mins >= w.startMinutes && mins < w.endMinutes {
				return w.name
			}
		} else if mins >= w.startMinutes || mins < w.endMinutes {
			return w.name
		}
	}
	return "Off_Hours"
}

// RelevanceFor grades the (symbol, session) combination.
func (f *Filter) RelevanceFor(symbol, sessionName string) Relevance {
	rules, ok := f.rules[utils.FormatSymbol(symbol)]
	if !ok {
		return RelevanceUnknown
	}
	for _, s := range rules.Ideal {
		if s == sessionName {
			return RelevanceIdeal
		}
	}
	for _, s := range rules.Acceptable {
		if s == sessionName {
			return RelevanceAcceptable
		}
	}
	for _, s := range rules.Avoid {
		if s == sessionName {
			return RelevanceAvoid
		}
	}
	return RelevanceUnknown
}

// Evaluate classifies a trade attempt and reports whether enforce mode would
// block it. Every evaluation is logged when the filter is enabled.
func (f *Filter) Evaluate(symbol string, ts time.Time) (sessionName string, relevance Relevance, block bool) {
	sessionName = f.CurrentSession(ts)
	relevance = f.RelevanceFor(symbol, sessionName)
	block = f.enabled && f.mode == "enforce" && relevance == RelevanceAvoid

	if f.enabled {
		f.logger.Info("session_filter_evaluated",
			zap.String("symbol", symbol),
			zap.String("session_name", sessionName),
			zap.String("session_relevance", string(relevance)),
			zap.String("mode", f.mode),
			zap.Bool("would_block_if_enforced", relevance == RelevanceAvoid))
	}
	return sessionName, relevance, block
}

// Mode returns the configured filter mode.
func (f *Filter) Mode() string { return f.mode }
