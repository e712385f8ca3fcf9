// Package detector computes a smoothed relative-strength oscillator per
// symbol and emits edge-triggered Buy/Sell events.
package detector

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gotrader/internal/md"
	"gotrader/internal/model"
)

// Event is one emitted Buy or Sell for a symbol, with the prices and
// oscillator value at detection.
type Event struct {
	Symbol string
	Date   time.Time
	Action model.Action
	Open   float64
	Close  float64
	RSI    float64
}

// Result maps each included symbol to its full chronological Buy/Sell series.
type Result map[string][]Event

// applyEdge promotes raw conditions to emitted events. The in-buy-phase flag
// is local to one symbol's scan; a raw Buy emits only when not already in a
// phase, a raw Sell only when in one.
func applyEdge(rows []Row) []Event {
	var events []Event
	inBuyPhase := false
	for _, row := range rows {
		switch {
		case row.RawBuy && !inBuyPhase:
			inBuyPhase = true
			events = append(events, toEvent(row, model.Buy))
		case row.RawSell && inBuyPhase:
			inBuyPhase = false
			events = append(events, toEvent(row, model.Sell))
		}
	}
	return events
}

func toEvent(row Row, action model.Action) Event {
	return Event{
		Symbol: row.Bar.Symbol,
		Date:   row.Bar.Date,
		Action: action,
		Open:   row.Bar.Open,
		Close:  row.Bar.Close,
		RSI:    row.RSI,
	}
}

// detectSymbol runs the whole per-symbol computation: indicators, raw
// conditions, edge filter.
func detectSymbol(bars []md.Bar, p Params) ([]Event, error) {
	rows, err := computeRows(bars, p)
	if err != nil {
		return nil, err
	}
	return applyEdge(rows), nil
}

// recentBuy reports whether the symbol's latest emitted Buy falls within the
// recency gate as of now.
func recentBuy(events []Event, now time.Time, days int) bool {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action != model.Buy {
			continue
		}
		age := model.Day(now).Sub(model.Day(events[i].Date)).Hours() / 24
		return age >= 0 && age <= float64(days)
	}
	return false
}

// Detect runs per-symbol detection across the panel concurrently and returns
// the symbols whose most recent Buy is within the recency gate, each with its
// full event series. One symbol's failure never aborts the batch.
func Detect(ctx context.Context, panel md.Panel, p Params, now time.Time) Result {
	var (
		mu     sync.Mutex
		result = make(Result)
	)

	group := new(errgroup.Group)
	group.SetLimit(runtime.NumCPU())

	for _, symbol := range panel.Symbols() {
		if ctx.Err() != nil {
			break
		}
		symbol := symbol
		bars := panel[symbol]
		group.Go(func() error {
			events, err := detectSymbol(bars, p)
			if err != nil {
				slog.Warn("symbol skipped", "symbol", symbol, "error", err)
				return nil
			}
			if !recentBuy(events, now, p.RecentBuyDays) {
				return nil
			}
			mu.Lock()
			result[symbol] = events
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	slog.Info("detection complete", "symbols", len(panel), "with_recent_buy", len(result))
	return result
}
