package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Broker order statuses the lifecycle cares about. Anything else is pending
// from our point of view.
const (
	OrderFilled          = "filled"
	OrderPartiallyFilled = "partially_filled"
	OrderCanceled        = "canceled"
	OrderRejected        = "rejected"
	OrderExpired         = "expired"
)

// Order is a cached snapshot of broker truth for one order. It is always safe
// to overwrite with a fresher snapshot.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"order_type"`
	Status         string          `json:"status"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
	CanceledAt     *time.Time      `json:"canceled_at,omitempty"`
	ExpiredAt      *time.Time      `json:"expired_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
}

// OrderKey namespaces a broker order id for the order snapshot collection.
func OrderKey(orderID string) string {
	return "alpaca_" + orderID
}

// FilledEnough reports whether the order counts as a confirmed fill for
// lifecycle purposes.
func (o *Order) FilledEnough() bool {
	if o == nil {
		return false
	}
	return o.Status == OrderFilled || o.Status == OrderPartiallyFilled
}

// TerminalNonFill reports whether the order ended without a fill. A trade
// with such a leg is flagged for manual review, never auto-resolved.
func (o *Order) TerminalNonFill() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}
