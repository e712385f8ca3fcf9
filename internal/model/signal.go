package model

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	Buy  Action = "Buy"
	Sell Action = "Sell"
	Hold Action = "Hold"
)

// SignalMetadata captures the prices and oscillator value at detection time.
// Reason is set only on synthesized signals (e.g. timeout sweeps).
type SignalMetadata struct {
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	RSI    float64 `json:"rsi"`
	Reason string  `json:"reason,omitempty"`
}

// Signal is one detected Buy or Sell for a symbol on a date. Its identity is
// the deterministic key from SignalKey; creating the same key twice is a
// no-op, which is the sole deduplication mechanism in the pipeline.
type Signal struct {
	ID        string         `json:"-"`
	Symbol    string         `json:"symbol"`
	Action    Action         `json:"action"`
	Date      time.Time      `json:"date"`
	Strategy  string         `json:"strategy"`
	Metadata  SignalMetadata `json:"metadata"`
	ExecuteOn time.Time      `json:"executeOn"`
	OrderID   *string        `json:"orderId"`

	// ResolvedOrder is the hydrated broker snapshot for OrderID. It is
	// populated on demand and never persisted with the signal.
	ResolvedOrder *Order `json:"-"`
}

// SignalKey derives the deterministic signal identity, e.g.
// "aapl_2024-03-08_rsi_buy".
func SignalKey(symbol string, date time.Time, strategy string, action Action) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%s_%s", symbol, date.In(Eastern).Format("2006-01-02"), strategy, action))
}

// NewSignal builds a signal detected now, scheduled for executeOn.
func NewSignal(id, symbol string, action Action, strategy string, meta SignalMetadata, executeOn time.Time) *Signal {
	return &Signal{
		ID:        id,
		Symbol:    symbol,
		Action:    action,
		Date:      Today(),
		Strategy:  strategy,
		Metadata:  meta,
		ExecuteOn: executeOn,
	}
}
