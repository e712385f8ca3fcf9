package md

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// Source fetches a daily panel for a symbol universe. Symbols with no data in
// the range are dropped, never errored.
type Source interface {
	Bars(ctx context.Context, symbols []string, start, end time.Time) (Panel, error)
}

// AlpacaSource fetches split- and dividend-adjusted daily bars from the
// Alpaca market data API.
type AlpacaSource struct {
	client *marketdata.Client
}

func NewAlpacaSource(apiKey, apiSecret string) *AlpacaSource {
	return &AlpacaSource{client: marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})}
}

func (s *AlpacaSource) Bars(ctx context.Context, symbols []string, start, end time.Time) (Panel, error) {
	bars, err := s.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Adjustment: marketdata.All,
	})
	if err != nil {
		slog.Error("fetch bars failed", "symbols", len(symbols), "error", err)
		return nil, err
	}

	panel := make(Panel, len(bars))
	for symbol, series := range bars {
		if len(series) == 0 {
			continue
		}
		converted := make([]Bar, 0, len(series))
		for _, bar := range series {
			converted = append(converted, Bar{
				Symbol: symbol,
				Date:   bar.Timestamp,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: float64(bar.Volume),
			})
		}
		panel[symbol] = converted
	}

	slog.Info("bars fetched", "requested", len(symbols), "with_data", len(panel))
	return panel, nil
}
