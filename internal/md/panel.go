package md

import (
	"sort"
	"time"
)

// Bar is one daily OHLCV observation for a symbol, exchange-local trading-day
// granularity. Bars are immutable once fetched.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Panel is a multi-symbol daily series, chronological per symbol.
type Panel map[string][]Bar

// Symbols returns the panel's symbols in lexicographic order. This is the
// canonical iteration order wherever determinism matters (ranking ties,
// batched detection).
func (p Panel) Symbols() []string {
	symbols := make([]string, 0, len(p))
	for symbol := range p {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
