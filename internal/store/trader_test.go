package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"gotrader/internal/model"
)

func newTestTrader(t *testing.T) *Trader {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTrader(db)
}

func testSignal(key, symbol string, action model.Action) *model.Signal {
	return model.NewSignal(key, symbol, action, "RSI",
		model.SignalMetadata{Open: 100, Close: 101, RSI: 28.5},
		model.Today().AddDate(0, 0, 1))
}

func TestAddSignalIdempotent(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()
	signal := testSignal("aapl_2024-03-08_rsi_buy", "AAPL", model.Buy)

	created, err := trader.AddSignal(ctx, signal)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if !created {
		t.Fatal("first add should create")
	}

	for i := 0; i < 3; i++ {
		created, err = trader.AddSignal(ctx, signal)
		if err != nil {
			t.Fatalf("repeat add: %v", err)
		}
		if created {
			t.Fatal("repeat add should report already exists")
		}
	}

	got, err := trader.GetSignal(ctx, signal.ID)
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if got.Symbol != "AAPL" || got.Action != model.Buy {
		t.Fatalf("unexpected signal: %+v", got)
	}
	if got.OrderID != nil {
		t.Fatalf("fresh signal should have no order id, got %v", *got.OrderID)
	}
}

func TestSetSignalOrderAndPending(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()
	today := model.Today()

	pending := testSignal("aapl_2024-03-08_rsi_buy", "AAPL", model.Buy)
	stale := testSignal("msft_2024-01-02_rsi_buy", "MSFT", model.Buy)
	stale.ExecuteOn = today.AddDate(0, 0, -5)
	ordered := testSignal("nvda_2024-03-08_rsi_sell", "NVDA", model.Sell)

	for _, s := range []*model.Signal{pending, stale, ordered} {
		if _, err := trader.AddSignal(ctx, s); err != nil {
			t.Fatalf("add %s: %v", s.ID, err)
		}
	}
	if err := trader.SetSignalOrder(ctx, ordered.ID, "order-123"); err != nil {
		t.Fatalf("set order: %v", err)
	}

	got, err := trader.PendingSignals(ctx, today)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("pending = %v, want only %s", got, pending.ID)
	}

	withOrder, err := trader.GetSignal(ctx, ordered.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if withOrder.OrderID == nil || *withOrder.OrderID != "order-123" {
		t.Fatalf("order id not attached: %+v", withOrder)
	}
}

func TestTradeLifecyclePersistence(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()

	trade := model.NewTrade("aapl_2024-03-08_rsi_buy", "AAPL", "RSI")
	created, err := trader.AddTrade(ctx, trade)
	if err != nil || !created {
		t.Fatalf("add trade: created=%v err=%v", created, err)
	}
	if created, _ := trader.AddTrade(ctx, trade); created {
		t.Fatal("second add should report already exists")
	}

	if err := trader.AppendSignalRef(ctx, trade.ID, "aapl_2024-03-08_rsi_buy"); err != nil {
		t.Fatalf("append ref: %v", err)
	}
	// Appending the same ref again must not duplicate it.
	if err := trader.AppendSignalRef(ctx, trade.ID, "aapl_2024-03-08_rsi_buy"); err != nil {
		t.Fatalf("append ref again: %v", err)
	}
	if err := trader.AppendSignalRef(ctx, trade.ID, "aapl_2024-03-20_rsi_sell"); err != nil {
		t.Fatalf("append sell ref: %v", err)
	}

	got, err := trader.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if len(got.SignalRefs) != 2 {
		t.Fatalf("refs = %v, want 2 entries", got.SignalRefs)
	}
	if got.SignalRefs[0] != "aapl_2024-03-08_rsi_buy" || got.SignalRefs[1] != "aapl_2024-03-20_rsi_sell" {
		t.Fatalf("refs out of order: %v", got.SignalRefs)
	}

	open, err := trader.OpenTrades(ctx)
	if err != nil {
		t.Fatalf("open trades: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open trades = %d, want 1", len(open))
	}

	summary := model.TradeSummary{
		CostBasis: decimal.NewFromInt(100),
		SalePrice: decimal.NewFromInt(110),
		ReturnPct: decimal.NewFromFloat(0.1),
		Revenue:   decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(10),
	}
	if err := trader.CloseTrade(ctx, trade.ID, summary); err != nil {
		t.Fatalf("close trade: %v", err)
	}

	open, err = trader.OpenTrades(ctx)
	if err != nil {
		t.Fatalf("open trades after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("closed trade still reported open: %v", open)
	}

	closed, err := trader.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get closed trade: %v", err)
	}
	if closed.Status != model.TradeClosed || closed.Summary == nil {
		t.Fatalf("trade not closed: %+v", closed)
	}
	if !closed.Summary.Revenue.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("summary revenue = %s", closed.Summary.Revenue)
	}
}

func TestHydrateResolvesSignalsAndOrders(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()

	buy := testSignal("aapl_2024-03-08_rsi_buy", "AAPL", model.Buy)
	if _, err := trader.AddSignal(ctx, buy); err != nil {
		t.Fatalf("add signal: %v", err)
	}
	if err := trader.SetSignalOrder(ctx, buy.ID, "order-1"); err != nil {
		t.Fatalf("set order: %v", err)
	}
	if err := trader.UpsertOrder(ctx, model.OrderKey("order-1"), &model.Order{
		ID:             "order-1",
		Symbol:         "AAPL",
		Status:         model.OrderFilled,
		FilledQty:      decimal.NewFromInt(10),
		FilledAvgPrice: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("upsert order: %v", err)
	}

	trade := model.NewTrade(buy.ID, "AAPL", "RSI")
	if _, err := trader.AddTrade(ctx, trade); err != nil {
		t.Fatalf("add trade: %v", err)
	}
	if err := trader.AppendSignalRef(ctx, trade.ID, buy.ID); err != nil {
		t.Fatalf("append ref: %v", err)
	}

	got, err := trader.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if err := trader.Hydrate(ctx, got); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if len(got.ResolvedSignals) != 1 {
		t.Fatalf("resolved signals = %d, want 1", len(got.ResolvedSignals))
	}
	order := got.ResolvedSignals[0].ResolvedOrder
	if order == nil || order.Status != model.OrderFilled {
		t.Fatalf("order not hydrated: %+v", order)
	}
}

func TestMarkTradeIncomplete(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()

	trade := model.NewTrade("aapl_2024-03-08_rsi_buy", "AAPL", "RSI")
	if _, err := trader.AddTrade(ctx, trade); err != nil {
		t.Fatalf("add trade: %v", err)
	}
	if err := trader.MarkTradeIncomplete(ctx, trade.ID, "open leg canceled"); err != nil {
		t.Fatalf("mark incomplete: %v", err)
	}

	got, err := trader.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if !got.Incomplete {
		t.Fatal("trade should be flagged incomplete")
	}
	if got.Summary == nil || got.Summary.CancelReason != "open leg canceled" {
		t.Fatalf("cancel reason missing: %+v", got.Summary)
	}
	// Incomplete trades stay open for manual inspection.
	open, err := trader.OpenTrades(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("open = %v err = %v, want the incomplete trade", open, err)
	}
}

func TestGetMissing(t *testing.T) {
	trader := newTestTrader(t)
	ctx := context.Background()

	if _, err := trader.GetSignal(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := trader.GetTrade(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := trader.SetSignalOrder(ctx, "nope", "order-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
