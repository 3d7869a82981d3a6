// Package journal tracks trade outcomes: entry caching at execution time,
// exit reconciliation from broker deal history, and per-day JSON persistence.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// Entry is the cached context of an executed trade, keyed by position ticket.
type Entry struct {
	Ticket           int64           `json:"ticket"`
	Symbol           string          `json:"symbol"`
	Direction        types.DecisionType `json:"direction"`
	StructureType    string          `json:"structure_type"`
	EntryTime        time.Time       `json:"entry_time"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	StopLoss         decimal.Decimal `json:"sl"`
	TakeProfit       decimal.Decimal `json:"tp"`
	Volume           decimal.Decimal `json:"volume"`
	IntendedRR       decimal.Decimal `json:"intended_rr"`
	Magic            int64           `json:"magic"`
	Comment          string          `json:"comment"`
	SessionName      string          `json:"session_name"`
	SessionRelevance string          `json:"session_relevance"`
	HTFBias          string          `json:"htf_bias"`
	HTFAlignment     string          `json:"htf_alignment"`
	HTFDistanceATR   decimal.Decimal `json:"htf_distance_atr"`
	HTFClearTrend    bool            `json:"htf_clear_trend"`
}

// ExitReason classifies how a position closed.
type ExitReason string

const (
	ExitSLHit   ExitReason = "sl_hit"
	ExitTPHit   ExitReason = "tp_hit"
	ExitManual  ExitReason = "manual"
	ExitUnknown ExitReason = "unknown"
)

// Outcome is the persisted record joining entry context with exit details.
type Outcome struct {
	Ticket           int64           `json:"ticket"`
	Symbol           string          `json:"symbol"`
	Direction        string          `json:"direction"`
	StructureType    string          `json:"structure_type"`
	EntryTime        string          `json:"entry_time"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	StopLoss         decimal.Decimal `json:"sl"`
	TakeProfit       decimal.Decimal `json:"tp"`
	Volume           decimal.Decimal `json:"volume"`
	IntendedRR       decimal.Decimal `json:"intended_rr"`
	ExitTime         string          `json:"exit_time"`
	ExitPrice        decimal.Decimal `json:"exit_price"`
	ExitReason       ExitReason      `json:"exit_reason"`
	PnLPips          decimal.Decimal `json:"pnl_pips"`
	PnLUSD           decimal.Decimal `json:"pnl_usd"`
	AchievedRR       decimal.Decimal `json:"achieved_rr"`
	HoldTimeMinutes  decimal.Decimal `json:"hold_time_minutes"`
	Result           string          `json:"outcome"` // win | loss | breakeven
	SessionName      string          `json:"session_name"`
	SessionRelevance string          `json:"session_relevance"`
	HTFBias          string          `json:"htf_bias"`
	HTFAlignment     string          `json:"htf_alignment"`
}

// Journal owns the entry cache, the recorded-ticket set, and the daily files.
// Persistence failures are logged and never block trading.
type Journal struct {
	logger  *zap.Logger
	enabled bool
	dir     string

	entries  map[int64]Entry
	recorded map[int64]bool

	lastReconcile time.Time
}

// New builds a journal writing daily files under dir.
func New(logger *zap.Logger, cfg types.JournalConfig) *Journal {
	j := &Journal{
		logger:   logger.Named("trade-journal"),
		enabled:  cfg.Enabled,
		dir:      cfg.Dir,
		entries:  make(map[int64]Entry),
		recorded: make(map[int64]bool),
	}
	if j.enabled && j.dir != "" {
		if err := os.MkdirAll(j.dir, 0o755); err != nil {
			j.logger.Warn("trade_journal_dir_failed", zap.String("dir", j.dir), zap.Error(err))
		}
	}
	return j
}

// CacheEntry stores entry context at execution time.
func (j *Journal) CacheEntry(e Entry) {
	if !j.enabled {
		return
	}
	j.entries[e.Ticket] = e
	j.logger.Info("trade_entry_cached",
		zap.Int64("ticket", e.Ticket),
		zap.String("symbol", e.Symbol),
		zap.String("direction", string(e.Direction)),
		zap.String("structure_type", e.StructureType),
		zap.String("entry_price", e.EntryPrice.String()),
		zap.String("sl", e.StopLoss.String()),
		zap.String("tp", e.TakeProfit.String()),
		zap.String("volume", e.Volume.String()),
		zap.String("intended_rr", e.IntendedRR.String()))
}

// CachedEntry fetches a cached entry.
func (j *Journal) CachedEntry(ticket int64) (Entry, bool) {
	e, ok := j.entries[ticket]
	return e, ok
}

// CachedCount returns the number of open cached entries.
func (j *Journal) CachedCount() int { return len(j.entries) }

// ClassifyExitReason inspects the closing deal's comment for known markers.
func ClassifyExitReason(comment string) ExitReason {
	c := strings.ToLower(comment)
	switch {
	case strings.Contains(c, "sl"), strings.Contains(c, "stop loss"):
		return ExitSLHit
	case strings.Contains(c, "tp"), strings.Contains(c, "take profit"):
		return ExitTPHit
	case strings.Contains(c, "manual"), strings.Contains(c, "close"):
		return ExitManual
	default:
		return ExitUnknown
	}
}

// Reconcile scans closing deals since the last reconcile and records an
// outcome per closed position. Returns the outcomes recorded this pass.
func (j *Journal) Reconcile(deals []types.Deal, point decimal.Decimal, now time.Time) []Outcome {
	if !j.enabled {
		return nil
	}
	j.lastReconcile = now

	var outcomes []Outcome
	for _, d := range deals {
		if d.Entry != types.DealEntryOut {
			continue
		}
		if j.recorded[d.PositionTicket] {
			continue
		}
		reason := ClassifyExitReason(d.Comment)
		o := j.RecordOutcome(d.PositionTicket, d.Symbol, d.Price, d.Profit, d.Volume, reason, point, d.Timestamp)
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes
}

// LastReconcile returns the last reconcile timestamp.
func (j *Journal) LastReconcile() time.Time { return j.lastReconcile }

// RecordOutcome joins a close with its cached entry and appends to the daily
// file. Without a cached entry (e.g. after restart) a minimal record with
// direction UNKNOWN is written instead of dropping the close.
func (j *Journal) RecordOutcome(ticket int64, symbol string, exitPrice, pnlUSD, volume decimal.Decimal, reason ExitReason, point decimal.Decimal, exitTime time.Time) *Outcome {
	if !j.enabled || j.recorded[ticket] {
		return nil
	}

	var o Outcome
	entry, ok := j.entries[ticket]
	if !ok {
		j.logger.Warn("trade_outcome_no_cached_entry",
			zap.Int64("ticket", ticket),
			zap.String("symbol", symbol),
			zap.String("exit_price", exitPrice.String()),
			zap.String("pnl_usd", pnlUSD.String()),
			zap.String("exit_reason", string(reason)))
		o = Outcome{
			Ticket:     ticket,
			Symbol:     symbol,
			Direction:  "UNKNOWN",
			StructureType: "unknown",
			Volume:     volume,
			ExitTime:   exitTime.UTC().Format(time.RFC3339),
			ExitPrice:  exitPrice,
			ExitReason: reason,
			PnLUSD:     pnlUSD,
			Result:     classifyResult(pnlUSD),
		}
	} else {
		dirMult := decimal.NewFromInt(1)
		if entry.Direction == types.DecisionSell {
			dirMult = decimal.NewFromInt(-1)
		}

		p := point
		if p.IsZero() {
			p = estimatePoint(entry.Symbol)
		}
		pnlPips := exitPrice.Sub(entry.EntryPrice).Mul(dirMult).Div(p)

		riskDistance := entry.EntryPrice.Sub(entry.StopLoss).Abs()
		achievedRR := decimal.Zero
		if riskDistance.Sign() > 0 {
			rewardDistance := exitPrice.Sub(entry.EntryPrice).Mul(dirMult)
			achievedRR = rewardDistance.Div(riskDistance)
		}

		holdMinutes := decimal.NewFromFloat(exitTime.Sub(entry.EntryTime).Minutes())

		o = Outcome{
			Ticket:           entry.Ticket,
			Symbol:           entry.Symbol,
			Direction:        string(entry.Direction),
			StructureType:    entry.StructureType,
			EntryTime:        entry.EntryTime.UTC().Format(time.RFC3339),
			EntryPrice:       entry.EntryPrice,
			StopLoss:         entry.StopLoss,
			TakeProfit:       entry.TakeProfit,
			Volume:           entry.Volume,
			IntendedRR:       entry.IntendedRR,
			ExitTime:         exitTime.UTC().Format(time.RFC3339),
			ExitPrice:        exitPrice,
			ExitReason:       reason,
			PnLPips:          pnlPips.Round(1),
			PnLUSD:           pnlUSD.Round(2),
			AchievedRR:       achievedRR.Round(2),
			HoldTimeMinutes:  holdMinutes.Round(1),
			Result:           classifyResult(pnlUSD),
			SessionName:      entry.SessionName,
			SessionRelevance: entry.SessionRelevance,
			HTFBias:          entry.HTFBias,
			HTFAlignment:     entry.HTFAlignment,
		}
		delete(j.entries, ticket)
	}

	j.append(o, exitTime)
	j.recorded[ticket] = true

	j.logger.Info("trade_outcome_recorded",
		zap.Int64("ticket", o.Ticket),
		zap.String("symbol", o.Symbol),
		zap.String("direction", o.Direction),
		zap.String("structure_type", o.StructureType),
		zap.String("exit_reason", string(o.ExitReason)),
		zap.String("pnl_pips", o.PnLPips.String()),
		zap.String("pnl_usd", o.PnLUSD.String()),
		zap.String("achieved_rr", o.AchievedRR.String()),
		zap.String("hold_time_minutes", o.HoldTimeMinutes.String()),
		zap.String("outcome", o.Result))

	return &o
}

func classifyResult(pnlUSD decimal.Decimal) string {
	switch pnlUSD.Sign() {
	case 1:
		return "win"
	case -1:
		return "loss"
	default:
		return "breakeven"
	}
}

// estimatePoint guesses the point size from the symbol when broker metadata
// is missing: JPY crosses and gold quote in hundredths.
func estimatePoint(symbol string) decimal.Decimal {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "JPY") || strings.Contains(s, "XAU") {
		return decimal.NewFromFloat(0.01)
	}
	return decimal.NewFromFloat(0.0001)
}

// append performs a read-modify-write of the UTC day's journal file.
func (j *Journal) append(o Outcome, ts time.Time) {
	if j.dir == "" {
		return
	}
	path := filepath.Join(j.dir, fmt.Sprintf("trade_journal_%s.json", ts.UTC().Format("20060102")))

	var records []Outcome
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			records = nil
		}
	}
	records = append(records, o)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		j.logger.Error("trade_journal_write_failed", zap.Int64("ticket", o.Ticket), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		j.logger.Error("trade_journal_write_failed", zap.Int64("ticket", o.Ticket), zap.Error(err))
	}
}

// Summary aggregates a day's journal file.
type Summary struct {
	Date        string                    `json:"date"`
	TotalTrades int                       `json:"total_trades"`
	Wins        int                       `json:"wins"`
	Losses      int                       `json:"losses"`
	Breakevens  int                       `json:"breakevens"`
	WinRatePct  decimal.Decimal           `json:"win_rate_pct"`
	TotalPnLUSD decimal.Decimal           `json:"total_pnl_usd"`
	AvgRR       decimal.Decimal           `json:"avg_achieved_rr"`
	ByStructure map[string]GroupSummary   `json:"by_structure"`
	BySymbol    map[string]GroupSummary   `json:"by_symbol"`
}

// GroupSummary is a per-group rollup.
type GroupSummary struct {
	Count int             `json:"count"`
	Wins  int             `json:"wins"`
	PnL   decimal.Decimal `json:"pnl"`
}

// Summarize loads and aggregates the journal for a UTC date.
func (j *Journal) Summarize(date time.Time) (*Summary, error) {
	path := filepath.Join(j.dir, fmt.Sprintf("trade_journal_%s.json", date.UTC().Format("20060102")))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Outcome
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	s := &Summary{
		Date:        date.UTC().Format("20060102"),
		TotalTrades: len(records),
		ByStructure: make(map[string]GroupSummary),
		BySymbol:    make(map[string]GroupSummary),
	}
	rrSum := decimal.Zero
	for _, r := range records {
		switch r.Result {
		case "win":
			s.Wins++
		case "loss":
			s.Losses++
		default:
			s.Breakevens++
		}
		s.TotalPnLUSD = s.TotalPnLUSD.Add(r.PnLUSD)
		rrSum = rrSum.Add(r.AchievedRR)

		g := s.ByStructure[r.StructureType]
		g.Count++
		g.PnL = g.PnL.Add(r.PnLUSD)
		if r.Result == "win" {
			g.Wins++
		}
		s.ByStructure[r.StructureType] = g

		g = s.BySymbol[r.Symbol]
		g.Count++
		g.PnL = g.PnL.Add(r.PnLUSD)
		if r.Result == "win" {
			g.Wins++
		}
		s.BySymbol[r.Symbol] = g
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.TotalTrades))).Mul(decimal.NewFromInt(100)).Round(1)
		s.AvgRR = rrSum.Div(decimal.NewFromInt(int64(s.TotalTrades))).Round(2)
	}
	return s, nil
}
