package datafeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfx/trading-engine/pkg/types"
)

// CSVFeed replays bars from per-symbol CSV files with the columns
// timestamp,open,high,low,close,volume. Timestamps are RFC3339 UTC.
type CSVFeed struct {
	bars   map[string][]types.Bar
	cursor map[string]int
}

// NewCSVFeed loads the given symbol → path mapping eagerly. Malformed rows
// abort the load; a replay feed with silent holes is worse than no feed.
func NewCSVFeed(paths map[string]string) (*CSVFeed, error) {
	f := &CSVFeed{
		bars:   make(map[string][]types.Bar, len(paths)),
		cursor: make(map[string]int, len(paths)),
	}
	for symbol, path := range paths {
		bars, err := loadCSV(path)
		if err != nil {
			return nil, fmt.Errorf("load %s for %s: %w", path, symbol, err)
		}
		f.bars[symbol] = bars
	}
	return f, nil
}

func loadCSV(path string) ([]types.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = 6

	var bars []types.Bar
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && record[0] == "timestamp" {
			continue // header
		}

		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp %q: %w", line, record[0], err)
		}
		fields := make([]decimal.Decimal, 5)
		for i := 0; i < 5; i++ {
			fields[i], err = decimal.NewFromString(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad numeric %q: %w", line, record[i+1], err)
			}
		}

		bar := types.Bar{
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
			Timestamp: ts.UTC(),
		}
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(bars); n > 0 && !bar.Timestamp.After(bars[n-1].Timestamp) {
			return nil, fmt.Errorf("line %d: non-monotonic timestamp %s", line, record[0])
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// NextBar returns the next bar in the replay.
func (f *CSVFeed) NextBar(symbol string) (types.Bar, bool) {
	bars := f.bars[symbol]
	i := f.cursor[symbol]
	if i >= len(bars) {
		return types.Bar{}, false
	}
	f.cursor[symbol] = i + 1
	return bars[i], true
}

// History returns up to count bars from the front of the replay, advancing
// the cursor past them.
func (f *CSVFeed) History(symbol string, count int) []types.Bar {
	bars := f.bars[symbol]
	i := f.cursor[symbol]
	end := i + count
	if end > len(bars) {
		end = len(bars)
	}
	f.cursor[symbol] = end
	return bars[i:end]
}
