package detector

import (
	"fmt"
	"time"

	"gotrader/internal/md"
)

// Params are the oscillator and signal thresholds. Defaults mirror the
// production strategy; tests shrink the windows.
type Params struct {
	TrendWindow   int     `yaml:"trend_window"`
	Span          int     `yaml:"rsi_span"`
	BuyRSI        float64 `yaml:"buy_rsi"`
	SellRSI       float64 `yaml:"sell_rsi"`
	SellWindow    int     `yaml:"sell_window"`
	StaleAfter    int     `yaml:"stale_after"`
	RecentBuyDays int     `yaml:"recent_buy_days"`
}

func Defaults() Params {
	return Params{
		TrendWindow:   200,
		Span:          19,
		BuyRSI:        30,
		SellRSI:       40,
		SellWindow:    10,
		StaleAfter:    10,
		RecentBuyDays: 10,
	}
}

// Row is one bar with its derived indicator values. Rows exist only for
// dates where the long trend window is full.
type Row struct {
	Bar     md.Bar
	Trend   float64
	AvgUp   float64
	AvgDown float64
	RSI     float64
	RawBuy  bool
	RawSell bool
}

// computeRows derives the indicator series for one symbol. Input bars must
// be chronological; duplicate dates are collapsed keeping the first
// occurrence.
func computeRows(bars []md.Bar, p Params) ([]Row, error) {
	bars = dedupeDates(bars)
	if len(bars) < p.TrendWindow {
		return nil, fmt.Errorf("insufficient history: %d bars, need %d", len(bars), p.TrendWindow)
	}

	n := len(bars)
	alpha := 2.0 / (float64(p.Span) + 1)

	avgUp := make([]float64, n)
	avgDown := make([]float64, n)
	for i := 1; i < n; i++ {
		change := (bars[i].Close - bars[i-1].Close) / bars[i-1].Close
		up, down := 0.0, 0.0
		if change > 0 {
			up = change
		} else if change < 0 {
			down = -change
		}
		// EMA seeded by the first observation, standard recursive weighting.
		avgUp[i] = avgUp[i-1] + alpha*(up-avgUp[i-1])
		avgDown[i] = avgDown[i-1] + alpha*(down-avgDown[i-1])
	}

	var closeSum float64
	rows := make([]Row, 0, n-p.TrendWindow+1)
	for i := 0; i < n; i++ {
		closeSum += bars[i].Close
		if i >= p.TrendWindow {
			closeSum -= bars[i-p.TrendWindow].Close
		}
		if i < p.TrendWindow-1 {
			continue
		}
		row := Row{
			Bar:     bars[i],
			Trend:   closeSum / float64(p.TrendWindow),
			AvgUp:   avgUp[i],
			AvgDown: avgDown[i],
			RSI:     oscillator(avgUp[i], avgDown[i]),
		}
		row.RawBuy = row.Bar.Close > row.Trend && row.RSI < p.BuyRSI
		rows = append(rows, row)
	}

	for i := range rows {
		rows[i].RawSell = sellAt(rows, i, p)
	}
	return rows, nil
}

// oscillator maps smoothed average moves onto [0, 100]. A zero average
// down-move saturates at 100 instead of dividing by zero.
func oscillator(avgUp, avgDown float64) float64 {
	if avgDown == 0 {
		return 100
	}
	rs := avgUp / avgDown
	return 100 - 100/(rs+1)
}

// sellAt evaluates the raw sell condition for rows[i] over the trailing
// SellWindow periods: the most recent raw buy is stale, or the oscillator
// blew through the exit level while a raw buy sits in the window. The first
// SellWindow periods never sell.
func sellAt(rows []Row, i int, p Params) bool {
	if i < p.SellWindow {
		return false
	}
	sinceBuy := -1
	for offset := 0; offset < p.SellWindow; offset++ {
		if rows[i-offset].RawBuy {
			sinceBuy = offset
			break
		}
	}
	if sinceBuy < 0 {
		return false
	}
	return sinceBuy >= p.StaleAfter || rows[i].RSI > p.SellRSI
}

func dedupeDates(bars []md.Bar) []md.Bar {
	out := bars[:0:0]
	for i, bar := range bars {
		if i > 0 && sameDay(bar.Date, out[len(out)-1].Date) {
			continue
		}
		out = append(out, bar)
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
