package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeCreated  TradeStatus = "created"
	TradeClosed   TradeStatus = "closed"
	TradeCanceled TradeStatus = "canceled"
)

// Trade is a round trip: one opening Buy signal and zero or one closing Sell.
// SignalRefs holds persisted signal keys in leg order; ResolvedSignals is the
// hydrated view and is never written back.
type Trade struct {
	ID         string        `json:"-"`
	Symbol     string        `json:"symbol"`
	Timestamp  time.Time     `json:"timestamp"`
	Strategy   string        `json:"strategy"`
	Status     TradeStatus   `json:"status"`
	SignalRefs []string      `json:"signals"`
	Incomplete bool          `json:"incomplete,omitempty"`
	Summary    *TradeSummary `json:"summary,omitempty"`

	ResolvedSignals []*Signal `json:"-"`
}

// TradeSummary records realized economics once both legs have filled.
type TradeSummary struct {
	CostBasis    decimal.Decimal `json:"costBasis"`
	SalePrice    decimal.Decimal `json:"salePrice"`
	ReturnPct    decimal.Decimal `json:"returnPct"`
	Revenue      decimal.Decimal `json:"revenue"`
	Quantity     decimal.Decimal `json:"quantity"`
	OpenedAt     time.Time       `json:"openedAt"`
	ClosedAt     time.Time       `json:"closedAt"`
	ExposureDays int             `json:"exposureDays"`
	CancelReason string          `json:"cancelReason,omitempty"`
}

// NewTrade builds an open trade identified by the originating buy signal key.
func NewTrade(id, symbol, strategy string) *Trade {
	return &Trade{
		ID:         id,
		Symbol:     symbol,
		Timestamp:  time.Now().In(Eastern),
		Strategy:   strategy,
		Status:     TradeCreated,
		SignalRefs: []string{},
	}
}

// Open reports whether the trade still participates in reconciliation and
// timeout sweeps.
func (t *Trade) Open() bool {
	return t.Status != TradeClosed && t.Status != TradeCanceled
}

// Summarize computes the realized economics for a filled round trip.
func Summarize(open, close *Order) TradeSummary {
	cost := open.FilledAvgPrice
	sale := close.FilledAvgPrice
	qty := open.FilledQty

	var openedAt, closedAt time.Time
	if open.FilledAt != nil {
		openedAt = open.FilledAt.In(Eastern)
	}
	if close.FilledAt != nil {
		closedAt = close.FilledAt.In(Eastern)
	}

	ret := decimal.Zero
	if !cost.IsZero() {
		ret = sale.Sub(cost).Div(cost)
	}

	return TradeSummary{
		CostBasis:    cost,
		SalePrice:    sale,
		ReturnPct:    ret,
		Revenue:      sale.Sub(cost).Mul(qty),
		Quantity:     qty,
		OpenedAt:     openedAt,
		ClosedAt:     closedAt,
		ExposureDays: exposureDays(openedAt, closedAt),
	}
}

// exposureDays is the calendar-date difference between the fills. Rounding
// absorbs the 23- and 25-hour days at DST transitions.
func exposureDays(openedAt, closedAt time.Time) int {
	return int(math.Round(Day(closedAt).Sub(Day(openedAt)).Hours() / 24))
}
