// Package filter narrows a price panel to liquid names.
package filter

import (
	"sort"
	"time"

	"gotrader/internal/md"
)

const (
	// Trailing window for the dollar-volume rolling mean, and the minimum
	// number of observations before the mean counts as valid.
	rollingWindow = 30
	minObs        = 12

	// DefaultTopN is how many symbols survive per date.
	DefaultTopN = 100
)

type candidate struct {
	symbol string
	mean   float64
	order  int
}

// ByDollarVolume keeps, for each date, the topN symbols with the highest
// trailing mean dollar volume. Symbols without a valid rolling window on a
// date are excluded from that date's ranking entirely. Ties keep the panel's
// canonical symbol order.
func ByDollarVolume(panel md.Panel, topN int) md.Panel {
	if topN <= 0 {
		topN = DefaultTopN
	}

	symbols := panel.Symbols()
	byDate := make(map[time.Time][]candidate)

	for order, symbol := range symbols {
		bars := panel[symbol]
		sums := make([]float64, len(bars)+1)
		for i, bar := range bars {
			sums[i+1] = sums[i] + bar.Close*bar.Volume/1e6
		}
		for i, bar := range bars {
			lo := i - rollingWindow + 1
			if lo < 0 {
				lo = 0
			}
			n := i - lo + 1
			if n < minObs {
				continue
			}
			mean := (sums[i+1] - sums[lo]) / float64(n)
			date := day(bar.Date)
			byDate[date] = append(byDate[date], candidate{symbol: symbol, mean: mean, order: order})
		}
	}

	type dateSymbol struct {
		date   time.Time
		symbol string
	}
	kept := make(map[dateSymbol]bool)
	for date, candidates := range byDate {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].mean != candidates[j].mean {
				return candidates[i].mean > candidates[j].mean
			}
			return candidates[i].order < candidates[j].order
		})
		limit := topN
		if limit > len(candidates) {
			limit = len(candidates)
		}
		for _, c := range candidates[:limit] {
			kept[dateSymbol{date: date, symbol: c.symbol}] = true
		}
	}

	out := make(md.Panel)
	for _, symbol := range symbols {
		var bars []md.Bar
		for _, bar := range panel[symbol] {
			if kept[dateSymbol{date: day(bar.Date), symbol: symbol}] {
				bars = append(bars, bar)
			}
		}
		if len(bars) > 0 {
			out[symbol] = bars
		}
	}
	return out
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
