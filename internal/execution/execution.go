// Package execution turns due signals into broker orders. Sizing is a fixed
// slice of portfolio value per position; the broker-side stop limits the
// downside between daily runs.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"gotrader/internal/broker"
	"gotrader/internal/metrics"
	"gotrader/internal/model"
)

// ErrAccountDisabled means the broker account cannot trade; callers should
// abort the whole run, not just one signal.
var ErrAccountDisabled = errors.New("execution: account is not enabled for trading")

// Store is the slice of the document store the processor needs.
type Store interface {
	PendingSignals(ctx context.Context, today time.Time) ([]*model.Signal, error)
	SetSignalOrder(ctx context.Context, key, orderID string) error
	UpsertOrder(ctx context.Context, key string, order *model.Order) error
}

// Broker is the slice of the brokerage gateway the processor needs.
type Broker interface {
	Account(ctx context.Context) (bool, broker.Account, error)
	Position(ctx context.Context, symbol string) (*broker.Position, error)
	BuyWithStop(ctx context.Context, symbol string, qty int64, limitPrice, stopPrice decimal.Decimal) (*model.Order, error)
	ClosePosition(ctx context.Context, symbol string) (*model.Order, error)
}

type Processor struct {
	store  Store
	broker Broker

	// PositionPct is the fraction of portfolio value one position may
	// occupy, existing exposure included.
	PositionPct decimal.Decimal
	// StopPct is the stop price as a fraction of the signal close.
	StopPct decimal.Decimal

	log *slog.Logger
}

func NewProcessor(st Store, br Broker) *Processor {
	return &Processor{
		store:       st,
		broker:      br,
		PositionPct: decimal.NewFromFloat(0.05),
		StopPct:     decimal.NewFromFloat(0.98),
		log:         slog.With("component", "execution"),
	}
}

// ProcessPending places orders for every signal scheduled for today or later
// that has no order yet. Per-signal failures are logged and skipped; the
// account gate aborts the whole run.
func (p *Processor) ProcessPending(ctx context.Context, today time.Time) error {
	enabled, account, err := p.broker.Account(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		p.log.Error("account is blocked or inactive", "status", account.Status)
		return ErrAccountDisabled
	}

	signals, err := p.store.PendingSignals(ctx, today)
	if err != nil {
		return err
	}
	p.log.Info("processing due signals", "count", len(signals))

	for _, signal := range signals {
		var order *model.Order
		switch signal.Action {
		case model.Buy:
			order, err = p.placeBuy(ctx, account, signal)
		case model.Sell:
			order, err = p.placeSell(ctx, signal)
		default:
			p.log.Warn("signal has no executable action", "key", signal.ID, "action", signal.Action)
			continue
		}
		if err != nil {
			p.log.Error("order placement failed", "key", signal.ID, "error", err)
			continue
		}
		if order == nil {
			continue
		}

		if err := p.store.UpsertOrder(ctx, model.OrderKey(order.ID), order); err != nil {
			p.log.Error("cache order snapshot failed", "order_id", order.ID, "error", err)
		}
		if err := p.store.SetSignalOrder(ctx, signal.ID, order.ID); err != nil {
			p.log.Error("link order to signal failed", "key", signal.ID, "order_id", order.ID, "error", err)
			continue
		}
		p.log.Info("order placed", "key", signal.ID, "order_id", order.ID, "side", order.Side)
	}
	return nil
}

// placeBuy sizes the order so the position, existing shares included, stays
// within PositionPct of portfolio value. Returns nil when no budget remains.
func (p *Processor) placeBuy(ctx context.Context, account broker.Account, signal *model.Signal) (*model.Order, error) {
	budget := account.PortfolioValue.Mul(p.PositionPct)

	position, err := p.broker.Position(ctx, signal.Symbol)
	if err != nil {
		return nil, err
	}
	if position != nil {
		budget = budget.Sub(position.Qty.Mul(position.AvgEntry))
	}

	limit := decimal.NewFromFloat(signal.Metadata.Open).Round(2)
	if !limit.IsPositive() {
		p.log.Warn("signal has no usable limit price", "key", signal.ID)
		return nil, nil
	}
	qty := budget.Div(limit).IntPart()
	if qty < 1 {
		p.log.Info("position budget exhausted, skipping buy", "key", signal.ID, "budget", budget)
		return nil, nil
	}

	stop := decimal.NewFromFloat(signal.Metadata.Close).Mul(p.StopPct).Round(2)
	order, err := p.broker.BuyWithStop(ctx, signal.Symbol, qty, limit, stop)
	if err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.WithLabelValues("buy").Inc()
	return order, nil
}

// placeSell liquidates the whole position. A missing position is a warning,
// not an error: the broker-side stop may already have taken the shares out.
func (p *Processor) placeSell(ctx context.Context, signal *model.Signal) (*model.Order, error) {
	position, err := p.broker.Position(ctx, signal.Symbol)
	if err != nil {
		return nil, err
	}
	if position == nil {
		p.log.Warn("no position to close", "key", signal.ID, "symbol", signal.Symbol)
		return nil, nil
	}

	order, err := p.broker.ClosePosition(ctx, signal.Symbol)
	if err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.WithLabelValues("sell").Inc()
	return order, nil
}
