package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

func newJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := t.TempDir()
	j := New(zap.NewNop(), types.JournalConfig{Enabled: true, Dir: dir})
	return j, dir
}

func cachedEntry() Entry {
	return Entry{
		Ticket:        12345,
		Symbol:        "EURUSD",
		Direction:     types.DecisionBuy,
		StructureType: "fair_value_gap",
		EntryTime:     time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		EntryPrice:    decimal.RequireFromString("1.10080"),
		StopLoss:      decimal.RequireFromString("1.09995"),
		TakeProfit:    decimal.RequireFromString("1.10208"),
		Volume:        decimal.RequireFromString("0.29"),
		IntendedRR:    decimal.RequireFromString("1.50"),
		SessionName:   "London",
		HTFBias:       "bullish",
	}
}

func TestEntryToOutcome(t *testing.T) {
	j, dir := newJournal(t)
	j.CacheEntry(cachedEntry())
	require.Equal(t, 1, j.CachedCount())

	exitTime := time.Date(2026, 1, 5, 10, 35, 0, 0, time.UTC)
	o := j.RecordOutcome(12345, "EURUSD",
		decimal.RequireFromString("1.10208"),
		decimal.RequireFromString("24.99"),
		decimal.RequireFromString("0.29"),
		ExitTPHit,
		decimal.RequireFromString("0.00001"),
		exitTime)

	require.NotNil(t, o)
	require.Equal(t, "BUY", o.Direction)
	require.Equal(t, ExitTPHit, o.ExitReason)
	require.True(t, o.PnLPips.Equal(decimal.NewFromInt(128)), "pnl_pips=%s", o.PnLPips)
	require.True(t, o.AchievedRR.Equal(decimal.RequireFromString("1.51")), "achieved_rr=%s", o.AchievedRR)
	require.Equal(t, "win", o.Result)
	require.True(t, o.HoldTimeMinutes.Equal(decimal.NewFromInt(95)), "hold=%s", o.HoldTimeMinutes)
	require.Equal(t, "London", o.SessionName)

	// The cached entry is consumed.
	require.Equal(t, 0, j.CachedCount())

	// The outcome is persisted in the daily file.
	data, err := os.ReadFile(filepath.Join(dir, "trade_journal_20260105.json"))
	require.NoError(t, err)
	var records []Outcome
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	require.Equal(t, int64(12345), records[0].Ticket)
}

func TestDuplicateTicketSuppressed(t *testing.T) {
	j, _ := newJournal(t)
	j.CacheEntry(cachedEntry())

	exitTime := time.Date(2026, 1, 5, 10, 35, 0, 0, time.UTC)
	point := decimal.RequireFromString("0.00001")
	price := decimal.RequireFromString("1.10208")
	pnl := decimal.RequireFromString("24.99")
	vol := decimal.RequireFromString("0.29")

	require.NotNil(t, j.RecordOutcome(12345, "EURUSD", price, pnl, vol, ExitTPHit, point, exitTime))
	require.Nil(t, j.RecordOutcome(12345, "EURUSD", price, pnl, vol, ExitTPHit, point, exitTime))
}

func TestOutcomeWithoutCachedEntry(t *testing.T) {
	j, _ := newJournal(t)

	o := j.RecordOutcome(999, "GBPUSD",
		decimal.RequireFromString("1.25000"),
		decimal.RequireFromString("-12.50"),
		decimal.RequireFromString("0.10"),
		ExitSLHit,
		decimal.RequireFromString("0.00001"),
		time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))

	require.NotNil(t, o)
	require.Equal(t, "UNKNOWN", o.Direction)
	require.Equal(t, "loss", o.Result)
}

func TestClassifyExitReason(t *testing.T) {
	require.Equal(t, ExitTPHit, ClassifyExitReason("tp 1.10208"))
	require.Equal(t, ExitSLHit, ClassifyExitReason("sl 1.09995"))
	require.Equal(t, ExitManual, ClassifyExitReason("manual close"))
	require.Equal(t, ExitUnknown, ClassifyExitReason(""))
}

func TestReconcileRecordsClosingDeals(t *testing.T) {
	j, _ := newJournal(t)
	j.CacheEntry(cachedEntry())

	ts := time.Date(2026, 1, 5, 10, 35, 0, 0, time.UTC)
	deals := []types.Deal{
		{ // opening deal: ignored
			Ticket: 12345, PositionTicket: 12345, Symbol: "EURUSD",
			Entry: types.DealEntryIn, Timestamp: ts.Add(-time.Hour),
		},
		{
			Ticket: 70001, PositionTicket: 12345, Symbol: "EURUSD",
			Entry: types.DealEntryOut, Comment: "tp hit",
			Price:  decimal.RequireFromString("1.10208"),
			Profit: decimal.RequireFromString("24.99"),
			Volume: decimal.RequireFromString("0.29"),
			Timestamp: ts,
		},
	}

	outcomes := j.Reconcile(deals, decimal.RequireFromString("0.00001"), ts)
	require.Len(t, outcomes, 1)
	require.Equal(t, ExitTPHit, outcomes[0].ExitReason)

	// A second pass over the same history records nothing new.
	require.Empty(t, j.Reconcile(deals, decimal.RequireFromString("0.00001"), ts))
}

func TestSummarize(t *testing.T) {
	j, _ := newJournal(t)
	j.CacheEntry(cachedEntry())

	exitTime := time.Date(2026, 1, 5, 10, 35, 0, 0, time.UTC)
	j.RecordOutcome(12345, "EURUSD",
		decimal.RequireFromString("1.10208"),
		decimal.RequireFromString("24.99"),
		decimal.RequireFromString("0.29"),
		ExitTPHit,
		decimal.RequireFromString("0.00001"),
		exitTime)

	s, err := j.Summarize(exitTime)
	require.NoError(t, err)
	require.Equal(t, 1, s.TotalTrades)
	require.Equal(t, 1, s.Wins)
	require.True(t, s.WinRatePct.Equal(decimal.NewFromInt(100)))
	require.Equal(t, 1, s.ByStructure["fair_value_gap"].Count)
}

func TestDisabledJournalIsInert(t *testing.T) {
	j := New(zap.NewNop(), types.JournalConfig{Enabled: false})
	j.CacheEntry(cachedEntry())
	require.Equal(t, 0, j.CachedCount())
	require.Nil(t, j.RecordOutcome(1, "EURUSD", decimal.Zero, decimal.Zero, decimal.Zero, ExitUnknown, decimal.Zero, time.Time{}))
}
