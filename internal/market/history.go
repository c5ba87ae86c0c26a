package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

type histPoint struct {
	at    time.Time
	price float64
}

// History holds per-symbol price series for historical replay. Lookups
// return the most recent observation at or before the requested time.
type History struct {
	series map[string][]histPoint
}

// LoadHistory reads a CSV price file. Each row is
// symbol,RFC3339 timestamp,price with no header.
func LoadHistory(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse history file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("history file %s is empty", path)
	}

	h := &History{series: make(map[string][]histPoint)}
	for i, row := range rows {
		at, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("history row %d: bad timestamp %q: %w", i+1, row[1], err)
		}
		price, err := strconv.ParseFloat(row[2], 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("history row %d: bad price %q", i+1, row[2])
		}
		h.series[row[0]] = append(h.series[row[0]], histPoint{at: at, price: price})
	}
	for sym := range h.series {
		pts := h.series[sym]
		sort.Slice(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	}
	return h, nil
}

// PriceAt returns the last known price for symbol at or before the
// given time.
func (h *History) PriceAt(symbol string, at time.Time) (float64, bool) {
	pts := h.series[symbol]
	if len(pts) == 0 {
		return 0, false
	}
	// First point strictly after `at`.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].at.After(at) })
	if i == 0 {
		return 0, false
	}
	return pts[i-1].price, true
}

// Symbols lists the symbols present in the loaded history.
func (h *History) Symbols() []string {
	out := make([]string, 0, len(h.series))
	for sym := range h.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
