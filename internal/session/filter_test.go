package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func TestFilterCurrentSessionPriority(t *testing.T) {
	f := NewFilter(zap.NewNop(), types.SessionFilterConfig{Enabled: true, Mode: "log_only"})

	// The London/NY overlap outranks both majors.
	require.Equal(t, "London_NY", f.CurrentSession(time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)))
	require.Equal(t, "London", f.CurrentSession(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)))
	require.Equal(t, "NY", f.CurrentSession(time.Date(2026, 1, 5, 18, 0, 0, 0, time.UTC)))
	require.Equal(t, "Asia", f.CurrentSession(time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)))
	require.Equal(t, "Off_Hours", f.CurrentSession(time.Date(2026, 1, 5, 22, 30, 0, 0, time.UTC)))
}

func TestFilterRelevance(t *testing.T) {
	f := NewFilter(zap.NewNop(), types.SessionFilterConfig{Enabled: true, Mode: "log_only"})

	require.Equal(t, RelevanceIdeal, f.RelevanceFor("EURUSD", "London"))
	require.Equal(t, RelevanceAcceptable, f.RelevanceFor("EURUSD", "Asia"))
	require.Equal(t, RelevanceAvoid, f.RelevanceFor("GBPUSD", "Asia"))
	require.Equal(t, RelevanceUnknown, f.RelevanceFor("USDCAD", "London"))
}

func TestFilterLogOnlyNeverBlocks(t *testing.T) {
	f := NewFilter(zap.NewNop(), types.SessionFilterConfig{Enabled: true, Mode: "log_only"})

	_, relevance, block := f.Evaluate("GBPUSD", time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC))
	require.Equal(t, RelevanceAvoid, relevance)
	require.False(t, block)
}

func TestFilterEnforceBlocksAvoid(t *testing.T) {
	f := NewFilter(zap.NewNop(), types.SessionFilterConfig{Enabled: true, Mode: "enforce"})

	sessionName, relevance, block := f.Evaluate("GBPUSD", time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC))
	require.Equal(t, "Asia", sessionName)
	require.Equal(t, RelevanceAvoid, relevance)
	require.True(t, block)

	// Ideal combinations pass even in enforce mode.
	_, _, block = f.Evaluate("GBPUSD", time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	require.False(t, block)
}

func TestFilterConfigOverridesDefaults(t *testing.T) {
	f := NewFilter(zap.NewNop(), types.SessionFilterConfig{
		Enabled: true,
		Mode:    "enforce",
		SymbolRules: map[string]types.SessionRelevanceSet{
			"EURUSD": {Avoid: []string{"London"}},
		},
	})
	require.Equal(t, RelevanceAvoid, f.RelevanceFor("EURUSD", "London"))
}
