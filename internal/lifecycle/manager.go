// Package lifecycle turns detected signal events into durable Signal/Trade
// state transitions, exactly once per (symbol, date, action), and reconciles
// them against broker order state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gotrader/internal/detector"
	"gotrader/internal/metrics"
	"gotrader/internal/model"
	"gotrader/internal/store"
)

// Store is the slice of the document store the manager needs. The concrete
// implementation is store.Trader.
type Store interface {
	AddSignal(ctx context.Context, signal *model.Signal) (bool, error)
	GetSignal(ctx context.Context, key string) (*model.Signal, error)
	AddTrade(ctx context.Context, trade *model.Trade) (bool, error)
	GetTrade(ctx context.Context, id string) (*model.Trade, error)
	Hydrate(ctx context.Context, trade *model.Trade) error
	AppendSignalRef(ctx context.Context, tradeID, signalKey string) error
	OpenTrades(ctx context.Context) ([]*model.Trade, error)
	CloseTrade(ctx context.Context, tradeID string, summary model.TradeSummary) error
	MarkTradeIncomplete(ctx context.Context, tradeID, reason string) error
	UpsertOrder(ctx context.Context, key string, order *model.Order) error
	GetOrder(ctx context.Context, key string) (*model.Order, error)
}

// Broker is the slice of the brokerage gateway the manager needs.
type Broker interface {
	NextTradeDay(ctx context.Context) (time.Time, error)
	OrderByID(ctx context.Context, orderID string) (*model.Order, error)
}

type Manager struct {
	store    Store
	broker   Broker
	audit    *AuditLogger
	strategy string
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewManager(st Store, br Broker, audit *AuditLogger, strategy string, timeoutDays int) *Manager {
	return &Manager{
		store:    st,
		broker:   br,
		audit:    audit,
		strategy: strategy,
		timeout:  time.Duration(timeoutDays) * 24 * time.Hour,
		now:      time.Now,
		log:      slog.With("component", "lifecycle"),
	}
}

// Apply walks the detector output and applies, per symbol, the most recent
// emitted event. Failures are contained to their symbol; duplicate keys are
// expected control flow, not errors.
func (m *Manager) Apply(ctx context.Context, detected detector.Result) {
	symbols := make([]string, 0, len(detected))
	for symbol := range detected {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		events := detected[symbol]
		if len(events) == 0 {
			continue
		}
		last := events[len(events)-1]
		switch last.Action {
		case model.Buy:
			m.applyBuy(ctx, last)
		case model.Sell:
			m.applySell(ctx, events)
		}
	}
}

func (m *Manager) applyBuy(ctx context.Context, event detector.Event) {
	key := model.SignalKey(event.Symbol, event.Date, m.strategy, model.Buy)

	executeOn, err := m.broker.NextTradeDay(ctx)
	if err != nil {
		m.log.Error("next trade day lookup failed", "symbol", event.Symbol, "error", err)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, Result: ResultError, Detail: err.Error()})
		return
	}

	signal := model.NewSignal(key, event.Symbol, model.Buy, m.strategy, eventMetadata(event), executeOn)
	created, err := m.store.AddSignal(ctx, signal)
	if err != nil {
		m.log.Error("persist buy signal failed", "key", key, "error", err)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, Result: ResultError, Detail: err.Error()})
		return
	}
	if !created {
		m.log.Info("buy signal already triggered", "key", key)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, Result: ResultDuplicate})
		return
	}
	metrics.SignalsCreated.WithLabelValues("buy").Inc()

	// The trade reuses the opening signal's key so a rerun collides on the
	// same id instead of opening a second position.
	trade := model.NewTrade(key, event.Symbol, m.strategy)
	tradeCreated, err := m.store.AddTrade(ctx, trade)
	if err != nil {
		m.log.Error("persist trade failed", "trade", key, "error", err)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, TradeID: key, Result: ResultError, Detail: err.Error()})
		return
	}
	if !tradeCreated {
		m.log.Warn("trade already exists, duplicate run", "trade", key)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, TradeID: key, Result: ResultDuplicate})
		return
	}

	if err := m.store.AppendSignalRef(ctx, trade.ID, key); err != nil {
		m.log.Error("attach signal to trade failed", "trade", trade.ID, "signal", key, "error", err)
		m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, TradeID: trade.ID, Result: ResultError, Detail: err.Error()})
		return
	}

	m.log.Info("buy signal recorded", "symbol", event.Symbol, "key", key, "execute_on", executeOn.Format("2006-01-02"))
	m.audit.Append(Outcome{Symbol: event.Symbol, Action: model.Buy, SignalKey: key, TradeID: trade.ID, Result: ResultSignalCreated})
}

func (m *Manager) applySell(ctx context.Context, events []detector.Event) {
	last := events[len(events)-1]
	symbol := last.Symbol
	key := model.SignalKey(symbol, last.Date, m.strategy, model.Sell)

	if len(events) < 2 {
		m.log.Warn("sell with no candidate opening event", "symbol", symbol, "key", key)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, Result: ResultGap, Detail: "no opening event"})
		return
	}

	// The opener's key is derived from the stored event's own action; a
	// non-Buy second-to-last event means the series cannot be paired up.
	opener := events[len(events)-2]
	if opener.Action != model.Buy {
		m.log.Warn("candidate opening event is not a buy", "symbol", symbol, "action", opener.Action)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, Result: ResultGap, Detail: "opening event is not a buy"})
		return
	}
	buyKey := model.SignalKey(symbol, opener.Date, m.strategy, model.Buy)

	trade, err := m.store.GetTrade(ctx, buyKey)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Warn("close triggered but no opening trade located", "symbol", symbol, "buy_key", buyKey)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultGap, Detail: "no opening trade"})
		return
	}
	if err != nil {
		m.log.Error("load trade failed", "trade", buyKey, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultError, Detail: err.Error()})
		return
	}
	// A trade holds at most one closing leg; a timeout sweep may have
	// attached one under a different date already.
	if len(trade.SignalRefs) >= 2 {
		m.log.Warn("trade already has a closing leg", "trade", buyKey, "refs", trade.SignalRefs)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultDuplicate, Detail: "closing leg already attached"})
		return
	}
	if err := m.store.Hydrate(ctx, trade); err != nil {
		m.log.Error("hydrate trade failed", "trade", buyKey, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultError, Detail: err.Error()})
		return
	}
	if len(trade.ResolvedSignals) == 0 {
		m.log.Warn("close triggered but trade has no opening signal", "trade", buyKey)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultGap, Detail: "no opening signal"})
		return
	}

	opening := trade.ResolvedSignals[0]
	order, err := m.confirmedOrder(ctx, opening)
	if err != nil {
		m.log.Error("opening order lookup failed", "trade", buyKey, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultError, Detail: err.Error()})
		return
	}
	if !order.FilledEnough() {
		// The detector keeps re-emitting this view, so the close is
		// retried on the next run rather than requeued here.
		m.log.Warn("opening leg not filled yet, deferring close", "trade", buyKey)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultDeferred, Detail: "opening leg not filled"})
		return
	}

	executeOn, err := m.broker.NextTradeDay(ctx)
	if err != nil {
		m.log.Error("next trade day lookup failed", "symbol", symbol, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultError, Detail: err.Error()})
		return
	}

	signal := model.NewSignal(key, symbol, model.Sell, m.strategy, eventMetadata(last), executeOn)
	created, err := m.store.AddSignal(ctx, signal)
	if err != nil {
		m.log.Error("persist sell signal failed", "key", key, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultError, Detail: err.Error()})
		return
	}
	if !created {
		m.log.Info("sell signal already triggered", "key", key)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: buyKey, Result: ResultDuplicate})
		return
	}
	metrics.SignalsCreated.WithLabelValues("sell").Inc()

	if err := m.store.AppendSignalRef(ctx, trade.ID, key); err != nil {
		m.log.Error("attach sell signal to trade failed", "trade", trade.ID, "signal", key, "error", err)
		m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: trade.ID, Result: ResultError, Detail: err.Error()})
		return
	}

	m.log.Info("sell signal recorded", "symbol", symbol, "key", key, "trade", trade.ID)
	m.audit.Append(Outcome{Symbol: symbol, Action: model.Sell, SignalKey: key, TradeID: trade.ID, Result: ResultSignalCreated})
}

// confirmedOrder returns the freshest snapshot of the signal's order,
// pulling from the broker when the cached snapshot is absent or not yet in a
// fill state, and persisting whatever the broker returns.
func (m *Manager) confirmedOrder(ctx context.Context, signal *model.Signal) (*model.Order, error) {
	if signal.OrderID == nil {
		return nil, nil
	}
	order := signal.ResolvedOrder
	if order.FilledEnough() || order.TerminalNonFill() {
		return order, nil
	}

	fresh, err := m.broker.OrderByID(ctx, *signal.OrderID)
	if err != nil {
		return order, err
	}
	if fresh == nil {
		return order, nil
	}
	if err := m.store.UpsertOrder(ctx, model.OrderKey(fresh.ID), fresh); err != nil {
		m.log.Warn("cache order snapshot failed", "order_id", fresh.ID, "error", err)
	}
	return fresh, nil
}

// SweepTimeouts synthesizes a forced Sell for every open trade whose single
// leg was scheduled longer ago than the timeout. The synthesized key goes
// through the same create-if-absent gate, so a second sweep on the same day
// is a no-op.
func (m *Manager) SweepTimeouts(ctx context.Context) {
	trades, err := m.store.OpenTrades(ctx)
	if err != nil {
		m.log.Error("load open trades failed", "error", err)
		return
	}

	now := m.now()
	for _, trade := range trades {
		if len(trade.SignalRefs) != 1 {
			continue
		}
		opening, err := m.store.GetSignal(ctx, trade.SignalRefs[0])
		if err != nil {
			m.log.Error("load opening signal failed", "trade", trade.ID, "error", err)
			continue
		}
		age := now.Sub(opening.ExecuteOn)
		if age <= m.timeout {
			continue
		}

		key := model.SignalKey(trade.Symbol, now, m.strategy, model.Sell)
		executeOn, err := m.broker.NextTradeDay(ctx)
		if err != nil {
			m.log.Error("next trade day lookup failed", "symbol", trade.Symbol, "error", err)
			continue
		}

		meta := opening.Metadata
		meta.Reason = "timed out"
		signal := model.NewSignal(key, trade.Symbol, model.Sell, m.strategy, meta, executeOn)
		created, err := m.store.AddSignal(ctx, signal)
		if err != nil {
			m.log.Error("persist timeout sell failed", "key", key, "error", err)
			continue
		}
		if !created {
			m.log.Info("timeout sell already synthesized", "key", key)
			continue
		}
		if err := m.store.AppendSignalRef(ctx, trade.ID, key); err != nil {
			m.log.Error("attach timeout sell failed", "trade", trade.ID, "signal", key, "error", err)
			continue
		}

		m.log.Warn("trade timed out, forced sell synthesized", "trade", trade.ID, "age_days", int(age.Hours()/24))
		m.audit.Append(Outcome{Symbol: trade.Symbol, Action: model.Sell, SignalKey: key, TradeID: trade.ID, Result: ResultTimedOut})
	}
}

// Reconcile backfills missing or stale order snapshots for open trades with
// both legs attached.
func (m *Manager) Reconcile(ctx context.Context) {
	trades, err := m.store.OpenTrades(ctx)
	if err != nil {
		m.log.Error("load open trades failed", "error", err)
		return
	}

	for _, trade := range trades {
		if len(trade.SignalRefs) < 2 {
			continue
		}
		if err := m.store.Hydrate(ctx, trade); err != nil {
			m.log.Error("hydrate trade failed", "trade", trade.ID, "error", err)
			metrics.ReconcileErrors.Inc()
			continue
		}
		for _, signal := range trade.ResolvedSignals {
			if signal.OrderID == nil {
				continue
			}
			order := signal.ResolvedOrder
			if order.FilledEnough() || order.TerminalNonFill() {
				continue
			}
			fresh, err := m.broker.OrderByID(ctx, *signal.OrderID)
			if err != nil {
				m.log.Error("order backfill failed", "order_id", *signal.OrderID, "error", err)
				metrics.ReconcileErrors.Inc()
				continue
			}
			if fresh == nil {
				m.log.Warn("order unknown to broker", "order_id", *signal.OrderID, "trade", trade.ID)
				continue
			}
			if err := m.store.UpsertOrder(ctx, model.OrderKey(fresh.ID), fresh); err != nil {
				m.log.Error("cache order snapshot failed", "order_id", fresh.ID, "error", err)
				metrics.ReconcileErrors.Inc()
			}
		}
	}
}

// CloseCompleted closes every open trade whose two legs both have confirmed
// fills with matching quantities. Anything else stays open: quantity
// mismatches and terminal non-fill legs are surfaced for manual review,
// never auto-resolved.
func (m *Manager) CloseCompleted(ctx context.Context) {
	trades, err := m.store.OpenTrades(ctx)
	if err != nil {
		m.log.Error("load open trades failed", "error", err)
		return
	}

	for _, trade := range trades {
		if len(trade.SignalRefs) < 2 {
			continue
		}
		if err := m.store.Hydrate(ctx, trade); err != nil {
			m.log.Error("hydrate trade failed", "trade", trade.ID, "error", err)
			continue
		}

		opening := trade.ResolvedSignals[0]
		closing := trade.ResolvedSignals[1]
		openOrder, closeOrder := opening.ResolvedOrder, closing.ResolvedOrder

		if badLeg := firstTerminalNonFill(openOrder, closeOrder); badLeg != nil {
			if trade.Incomplete {
				continue
			}
			reason := fmt.Sprintf("leg order %s is %s", badLeg.ID, badLeg.Status)
			m.log.Warn("trade has a dead leg, flagging for review", "trade", trade.ID, "reason", reason)
			if err := m.store.MarkTradeIncomplete(ctx, trade.ID, reason); err != nil {
				m.log.Error("mark trade incomplete failed", "trade", trade.ID, "error", err)
			}
			m.audit.Append(Outcome{Symbol: trade.Symbol, TradeID: trade.ID, Result: ResultIncomplete, Detail: reason})
			continue
		}

		if !openOrder.FilledEnough() || !closeOrder.FilledEnough() {
			continue // waiting on fills; reconciliation will catch up
		}
		if !openOrder.FilledQty.Equal(closeOrder.FilledQty) {
			m.log.Warn("fill quantity mismatch, leaving trade open",
				"trade", trade.ID, "open_qty", openOrder.FilledQty, "close_qty", closeOrder.FilledQty)
			continue
		}

		summary := model.Summarize(openOrder, closeOrder)
		if err := m.store.CloseTrade(ctx, trade.ID, summary); err != nil {
			m.log.Error("close trade failed", "trade", trade.ID, "error", err)
			continue
		}
		metrics.TradesClosed.Inc()
		m.log.Info("trade closed",
			"trade", trade.ID,
			"revenue", summary.Revenue,
			"return", summary.ReturnPct,
			"exposure_days", summary.ExposureDays)
		m.audit.Append(Outcome{Symbol: trade.Symbol, TradeID: trade.ID, Result: ResultClosed, Detail: fmt.Sprintf("revenue=%s", summary.Revenue)})
	}
}

func firstTerminalNonFill(orders ...*model.Order) *model.Order {
	for _, order := range orders {
		if order.TerminalNonFill() {
			return order
		}
	}
	return nil
}

func eventMetadata(event detector.Event) model.SignalMetadata {
	return model.SignalMetadata{
		Open:  round4(event.Open),
		Close: round4(event.Close),
		RSI:   round2(event.RSI),
	}
}

func round4(v float64) float64 { return roundTo(v, 1e4) }
func round2(v float64) float64 { return roundTo(v, 1e2) }

func roundTo(v, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
