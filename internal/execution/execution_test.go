package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gotrader/internal/broker"
	"gotrader/internal/model"
)

type fakeStore struct {
	pending []*model.Signal
	linked  map[string]string
	orders  map[string]*model.Order
}

func newFakeStore(pending ...*model.Signal) *fakeStore {
	return &fakeStore{
		pending: pending,
		linked:  map[string]string{},
		orders:  map[string]*model.Order{},
	}
}

func (f *fakeStore) PendingSignals(context.Context, time.Time) ([]*model.Signal, error) {
	return f.pending, nil
}

func (f *fakeStore) SetSignalOrder(_ context.Context, key, orderID string) error {
	f.linked[key] = orderID
	return nil
}

func (f *fakeStore) UpsertOrder(_ context.Context, key string, order *model.Order) error {
	f.orders[key] = order
	return nil
}

type buyCall struct {
	symbol string
	qty    int64
	limit  decimal.Decimal
	stop   decimal.Decimal
}

type fakeBroker struct {
	enabled   bool
	account   broker.Account
	positions map[string]*broker.Position

	buys   []buyCall
	closes []string
}

func (f *fakeBroker) Account(context.Context) (bool, broker.Account, error) {
	return f.enabled, f.account, nil
}

func (f *fakeBroker) Position(_ context.Context, symbol string) (*broker.Position, error) {
	return f.positions[symbol], nil
}

func (f *fakeBroker) BuyWithStop(_ context.Context, symbol string, qty int64, limit, stop decimal.Decimal) (*model.Order, error) {
	f.buys = append(f.buys, buyCall{symbol, qty, limit, stop})
	return &model.Order{ID: "buy-" + symbol, Symbol: symbol, Side: "buy", Status: "new"}, nil
}

func (f *fakeBroker) ClosePosition(_ context.Context, symbol string) (*model.Order, error) {
	f.closes = append(f.closes, symbol)
	return &model.Order{ID: "close-" + symbol, Symbol: symbol, Side: "sell", Status: "new"}, nil
}

func buySignal(key, symbol string, open, close float64) *model.Signal {
	return &model.Signal{
		ID:       key,
		Symbol:   symbol,
		Action:   model.Buy,
		Metadata: model.SignalMetadata{Open: open, Close: close},
	}
}

func enabledBroker(portfolio float64) *fakeBroker {
	return &fakeBroker{
		enabled:   true,
		account:   broker.Account{Status: "ACTIVE", PortfolioValue: decimal.NewFromFloat(portfolio)},
		positions: map[string]*broker.Position{},
	}
}

func TestProcessPendingBuySizing(t *testing.T) {
	st := newFakeStore(buySignal("aapl_2024-03-08_rsi_buy", "AAPL", 101.37, 100))
	br := enabledBroker(100_000) // 5% slice = 5000
	p := NewProcessor(st, br)

	if err := p.ProcessPending(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(br.buys) != 1 {
		t.Fatalf("buys = %d, want 1", len(br.buys))
	}
	call := br.buys[0]
	if call.qty != 49 { // floor(5000 / 101.37)
		t.Errorf("qty = %d, want 49", call.qty)
	}
	if !call.limit.Equal(decimal.NewFromFloat(101.37)) {
		t.Errorf("limit = %s, want 101.37", call.limit)
	}
	if !call.stop.Equal(decimal.NewFromFloat(98)) {
		t.Errorf("stop = %s, want 98", call.stop)
	}
	if st.linked["aapl_2024-03-08_rsi_buy"] != "buy-AAPL" {
		t.Errorf("signal not linked to order: %v", st.linked)
	}
	if _, ok := st.orders[model.OrderKey("buy-AAPL")]; !ok {
		t.Error("order snapshot not cached")
	}
}

func TestProcessPendingSubtractsExistingExposure(t *testing.T) {
	st := newFakeStore(buySignal("aapl_2024-03-08_rsi_buy", "AAPL", 100, 100))
	br := enabledBroker(100_000)
	br.positions["AAPL"] = &broker.Position{
		Symbol:   "AAPL",
		Qty:      decimal.NewFromInt(30),
		AvgEntry: decimal.NewFromInt(100), // 3000 already deployed of the 5000 slice
	}
	p := NewProcessor(st, br)

	if err := p.ProcessPending(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(br.buys) != 1 {
		t.Fatalf("buys = %d, want 1", len(br.buys))
	}
	if br.buys[0].qty != 20 {
		t.Errorf("qty = %d, want 20", br.buys[0].qty)
	}
}

func TestProcessPendingSkipsWhenBudgetExhausted(t *testing.T) {
	st := newFakeStore(buySignal("aapl_2024-03-08_rsi_buy", "AAPL", 100, 100))
	br := enabledBroker(100_000)
	br.positions["AAPL"] = &broker.Position{
		Symbol:   "AAPL",
		Qty:      decimal.NewFromInt(50),
		AvgEntry: decimal.NewFromInt(100),
	}
	p := NewProcessor(st, br)

	if err := p.ProcessPending(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(br.buys) != 0 {
		t.Errorf("buys = %d, want none with slice fully deployed", len(br.buys))
	}
	if len(st.linked) != 0 {
		t.Errorf("linked = %v, want none", st.linked)
	}
}

func TestProcessPendingSellClosesPosition(t *testing.T) {
	signal := &model.Signal{ID: "aapl_2024-03-20_rsi_sell", Symbol: "AAPL", Action: model.Sell}
	st := newFakeStore(signal)
	br := enabledBroker(100_000)
	br.positions["AAPL"] = &broker.Position{Symbol: "AAPL", Qty: decimal.NewFromInt(49)}
	p := NewProcessor(st, br)

	if err := p.ProcessPending(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(br.closes) != 1 || br.closes[0] != "AAPL" {
		t.Fatalf("closes = %v, want [AAPL]", br.closes)
	}
	if st.linked["aapl_2024-03-20_rsi_sell"] != "close-AAPL" {
		t.Errorf("sell signal not linked: %v", st.linked)
	}
}

func TestProcessPendingSellWithoutPosition(t *testing.T) {
	signal := &model.Signal{ID: "aapl_2024-03-20_rsi_sell", Symbol: "AAPL", Action: model.Sell}
	st := newFakeStore(signal)
	br := enabledBroker(100_000)
	p := NewProcessor(st, br)

	if err := p.ProcessPending(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(br.closes) != 0 {
		t.Errorf("closes = %v, want none without a position", br.closes)
	}
	if len(st.linked) != 0 {
		t.Errorf("linked = %v, want the signal left pending", st.linked)
	}
}

func TestProcessPendingDisabledAccount(t *testing.T) {
	st := newFakeStore(buySignal("aapl_2024-03-08_rsi_buy", "AAPL", 100, 100))
	br := enabledBroker(100_000)
	br.enabled = false
	p := NewProcessor(st, br)

	err := p.ProcessPending(context.Background(), time.Now())
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
	if len(br.buys) != 0 {
		t.Errorf("buys = %d, want none on a disabled account", len(br.buys))
	}
}
