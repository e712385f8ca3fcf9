// Package broker wraps the Alpaca trading API behind domain types. SDK
// structs never escape this package.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gotrader/internal/model"
)

// Account is the snapshot the signal processor sizes trades from.
type Account struct {
	Status         string
	PortfolioValue decimal.Decimal
	BuyingPower    decimal.Decimal
}

// Position is an open position at the broker.
type Position struct {
	Symbol   string
	Qty      decimal.Decimal
	AvgEntry decimal.Decimal
}

type Client struct {
	client  *alpaca.Client
	limiter *rate.Limiter
}

func New(apiKey, apiSecret string, paper bool) *Client {
	baseURL := "https://api.alpaca.markets"
	if paper {
		baseURL = "https://paper-api.alpaca.markets"
	}
	return &Client{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		// Alpaca allows 200 requests/minute; stay under it.
		limiter: rate.NewLimiter(rate.Every(time.Minute/180), 10),
	}
}

// Account fetches the account snapshot and reports whether it is enabled for
// trading.
func (c *Client) Account(ctx context.Context) (bool, Account, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, Account{}, err
	}
	acct, err := c.client.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return false, Account{}, err
	}

	disabled := acct.AccountBlocked || acct.TradingBlocked || acct.Status != "ACTIVE"
	snapshot := Account{
		Status:         acct.Status,
		PortfolioValue: acct.PortfolioValue,
		BuyingPower:    acct.BuyingPower,
	}
	slog.Info("account fetched", "status", acct.Status, "enabled", !disabled)
	return !disabled, snapshot, nil
}

// OpenMarketDays returns the open market days in [since, till], oldest first.
func (c *Client) OpenMarketDays(ctx context.Context, since, till time.Time) ([]time.Time, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	calendar, err := c.client.GetCalendar(alpaca.GetCalendarRequest{Start: since, End: till})
	if err != nil {
		slog.Error("fetch calendar failed", "error", err)
		return nil, err
	}

	days := make([]time.Time, 0, len(calendar))
	for _, day := range calendar {
		date, err := time.ParseInLocation("2006-01-02", day.Date, model.Eastern)
		if err != nil {
			continue
		}
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday || day.Open == "" {
			continue
		}
		days = append(days, date)
	}
	return days, nil
}

// NextTradeDay returns the next day an order scheduled now could execute.
// After the 15:00 exchange-local cutoff, today's session no longer counts.
func (c *Client) NextTradeDay(ctx context.Context) (time.Time, error) {
	now := time.Now().In(model.Eastern)
	today := model.Day(now)

	days, err := c.OpenMarketDays(ctx, today, today.AddDate(0, 0, 10))
	if err != nil {
		return time.Time{}, err
	}
	if len(days) == 0 {
		return time.Time{}, errors.New("no upcoming market days in calendar")
	}
	if days[0].Equal(today) && now.Hour() > 15 && len(days) > 1 {
		return days[1], nil
	}
	return days[0], nil
}

// Position returns the open position for symbol, or nil when there is none.
func (c *Client) Position(ctx context.Context, symbol string) (*Position, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	pos, err := c.client.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, nil
		}
		slog.Error("fetch position failed", "symbol", symbol, "error", err)
		return nil, err
	}
	return &Position{
		Symbol:   pos.Symbol,
		Qty:      pos.Qty,
		AvgEntry: pos.AvgEntryPrice,
	}, nil
}

// BuyWithStop places a day limit buy with an attached stop-loss leg.
func (c *Client) BuyWithStop(ctx context.Context, symbol string, qty int64, limitPrice, stopPrice decimal.Decimal) (*model.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	qtyDec := decimal.NewFromInt(qty)
	order, err := c.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qtyDec,
		Side:        alpaca.Buy,
		Type:        alpaca.Limit,
		TimeInForce: alpaca.Day,
		LimitPrice:  &limitPrice,
		OrderClass:  alpaca.OTO,
		StopLoss:    &alpaca.StopLoss{StopPrice: &stopPrice},
	})
	if err != nil {
		slog.Error("place buy failed", "symbol", symbol, "qty", qty, "error", err)
		return nil, err
	}
	slog.Info("buy placed", "symbol", symbol, "qty", qty, "order_id", order.ID, "limit", limitPrice, "stop", stopPrice)
	return toOrder(order), nil
}

// ClosePosition submits a market order closing the whole position.
func (c *Client) ClosePosition(ctx context.Context, symbol string) (*model.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	order, err := c.client.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		slog.Error("close position failed", "symbol", symbol, "error", err)
		return nil, err
	}
	slog.Info("close placed", "symbol", symbol, "order_id", order.ID)
	return toOrder(order), nil
}

// OrderByID fetches a fresh snapshot of one order, or nil when the broker no
// longer knows the id.
func (c *Client) OrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	order, err := c.client.GetOrder(orderID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, nil
		}
		slog.Error("fetch order failed", "order_id", orderID, "error", err)
		return nil, err
	}
	return toOrder(order), nil
}

// StreamTradeUpdates delivers broker order updates to handler until ctx is
// canceled.
func (c *Client) StreamTradeUpdates(ctx context.Context, handler func(event string, order *model.Order)) error {
	slog.Info("order stream starting")
	err := c.client.StreamTradeUpdates(ctx, func(update alpaca.TradeUpdate) {
		handler(update.Event, toOrder(&update.Order))
	}, alpaca.StreamTradeUpdatesRequest{})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("order stream failed", "error", err)
		return err
	}
	slog.Info("order stream stopped")
	return nil
}

func toOrder(o *alpaca.Order) *model.Order {
	if o == nil {
		return nil
	}
	order := &model.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        o.Status,
		FilledQty:     o.FilledQty,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		CreatedAt:     o.CreatedAt,
		SubmittedAt:   o.SubmittedAt,
		FilledAt:      o.FilledAt,
		CanceledAt:    o.CanceledAt,
		ExpiredAt:     o.ExpiredAt,
		FailedAt:      o.FailedAt,
	}
	if o.Qty != nil {
		order.Qty = *o.Qty
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = *o.FilledAvgPrice
	}
	return order
}
