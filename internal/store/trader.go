package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gotrader/internal/model"
)

const (
	signalCollection = "signals"
	tradeCollection  = "trades"
	orderCollection  = "orders"
)

// Trader exposes the signal/trade/order collections as typed operations.
type Trader struct {
	db *DB
}

func NewTrader(db *DB) *Trader {
	return &Trader{db: db}
}

// AddSignal creates the signal under its deterministic key and reports
// whether it was created. false with a nil error means the signal already
// existed, which callers treat as a duplicate run.
func (t *Trader) AddSignal(ctx context.Context, signal *model.Signal) (bool, error) {
	return t.db.CreateIfAbsent(ctx, signalCollection, signal.ID, signal)
}

// GetSignal loads a signal without hydrating its order snapshot.
func (t *Trader) GetSignal(ctx context.Context, key string) (*model.Signal, error) {
	var signal model.Signal
	if err := t.db.Get(ctx, signalCollection, key, &signal); err != nil {
		return nil, err
	}
	signal.ID = key
	return &signal, nil
}

// SetSignalOrder attaches a broker order id to the signal.
func (t *Trader) SetSignalOrder(ctx context.Context, key, orderID string) error {
	return t.db.Patch(ctx, signalCollection, key, map[string]any{"orderId": orderID})
}

// PendingSignals returns signals scheduled on or after today that have no
// order attached yet.
func (t *Trader) PendingSignals(ctx context.Context, today time.Time) ([]*model.Signal, error) {
	var signals []*model.Signal
	err := t.db.query(ctx,
		"collection = ? AND json_extract(doc, '$.orderId') IS NULL",
		[]any{signalCollection},
		func(key, doc string) error {
			var signal model.Signal
			if err := json.Unmarshal([]byte(doc), &signal); err != nil {
				return fmt.Errorf("decode signal %s: %w", key, err)
			}
			signal.ID = key
			if signal.ExecuteOn.Before(today) {
				return nil
			}
			signals = append(signals, &signal)
			return nil
		})
	return signals, err
}

// AddTrade creates the trade under its key and reports whether it was
// created.
func (t *Trader) AddTrade(ctx context.Context, trade *model.Trade) (bool, error) {
	return t.db.CreateIfAbsent(ctx, tradeCollection, trade.ID, trade)
}

// GetTrade loads a trade by id without hydration.
func (t *Trader) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	var trade model.Trade
	if err := t.db.Get(ctx, tradeCollection, id, &trade); err != nil {
		return nil, err
	}
	trade.ID = id
	return &trade, nil
}

// Hydrate resolves the trade's signal references and, for signals with an
// attached order, their order snapshots. Missing snapshots are left nil; the
// reconciliation pass backfills them from the broker.
func (t *Trader) Hydrate(ctx context.Context, trade *model.Trade) error {
	trade.ResolvedSignals = make([]*model.Signal, 0, len(trade.SignalRefs))
	for _, ref := range trade.SignalRefs {
		signal, err := t.GetSignal(ctx, ref)
		if err != nil {
			return fmt.Errorf("resolve signal %s: %w", ref, err)
		}
		if signal.OrderID != nil {
			order, err := t.GetOrder(ctx, model.OrderKey(*signal.OrderID))
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("resolve order for %s: %w", ref, err)
			}
			signal.ResolvedOrder = order
		}
		trade.ResolvedSignals = append(trade.ResolvedSignals, signal)
	}
	return nil
}

// AppendSignalRef adds the signal key to the trade's leg list if not already
// present. Refs are append-only and keep leg order.
func (t *Trader) AppendSignalRef(ctx context.Context, tradeID, signalKey string) error {
	trade, err := t.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	for _, ref := range trade.SignalRefs {
		if ref == signalKey {
			slog.Debug("signal ref already attached", "trade", tradeID, "signal", signalKey)
			return nil
		}
	}
	refs := append(trade.SignalRefs, signalKey)
	return t.db.Patch(ctx, tradeCollection, tradeID, map[string]any{"signals": refs})
}

// OpenTrades returns all trades still participating in sweeps.
func (t *Trader) OpenTrades(ctx context.Context) ([]*model.Trade, error) {
	var trades []*model.Trade
	err := t.db.query(ctx,
		"collection = ? AND json_extract(doc, '$.status') NOT IN ('closed', 'canceled')",
		[]any{tradeCollection},
		func(key, doc string) error {
			var trade model.Trade
			if err := json.Unmarshal([]byte(doc), &trade); err != nil {
				return fmt.Errorf("decode trade %s: %w", key, err)
			}
			trade.ID = key
			trades = append(trades, &trade)
			return nil
		})
	return trades, err
}

// CloseTrade persists the realized summary and moves the trade to its
// terminal closed state.
func (t *Trader) CloseTrade(ctx context.Context, tradeID string, summary model.TradeSummary) error {
	return t.db.Patch(ctx, tradeCollection, tradeID, map[string]any{
		"status":  string(model.TradeClosed),
		"summary": summary,
	})
}

// MarkTradeIncomplete flags a trade for manual review. The trade stays open.
func (t *Trader) MarkTradeIncomplete(ctx context.Context, tradeID, reason string) error {
	return t.db.Patch(ctx, tradeCollection, tradeID, map[string]any{
		"incomplete": true,
		"summary":    map[string]any{"cancelReason": reason},
	})
}

// UpsertOrder overwrites the cached broker snapshot for the namespaced key.
func (t *Trader) UpsertOrder(ctx context.Context, key string, order *model.Order) error {
	return t.db.Put(ctx, orderCollection, key, order)
}

// GetOrder loads a cached broker snapshot.
func (t *Trader) GetOrder(ctx context.Context, key string) (*model.Order, error) {
	var order model.Order
	if err := t.db.Get(ctx, orderCollection, key, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
