package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"gotrader/internal/detector"
	"gotrader/internal/filter"
	"gotrader/internal/lifecycle"
	"gotrader/internal/md"
	"gotrader/internal/model"
	"gotrader/internal/universe"
)

// rsiCmd runs the daily scan: universe, bars, liquidity filter, signal
// detection, lifecycle transitions.
func rsiCmd(a *app) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "rsi",
		Short: "Scan the universe for RSI entries and exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			disk := a.openCache()

			tickers := universe.NewCached(universe.NewFetcher(nil), disk)
			tickers.Refresh = refresh
			symbols, err := tickers.Symbols(ctx)
			if err != nil {
				return err
			}
			slog.Info("universe resolved", "symbols", len(symbols))

			source := md.NewCachedSource(md.NewAlpacaSource(a.cfg.APIKey, a.cfg.APISecret), disk)
			source.Refresh = refresh

			now := model.Today()
			start := now.AddDate(0, 0, -a.cfg.App.LookbackDays)
			panel, err := source.Bars(ctx, symbols, start, now)
			if err != nil {
				return err
			}
			slog.Info("bars loaded", "symbols", len(panel))

			liquid := filter.ByDollarVolume(panel, a.cfg.Trading.TopN)
			slog.Info("liquidity filter applied", "kept", len(liquid))

			detected := detector.Detect(ctx, liquid, a.cfg.Strategy, time.Now())

			db, trader, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			audit, err := a.openAudit()
			if err != nil {
				return err
			}
			defer audit.Close()

			manager := lifecycle.NewManager(trader, a.openBroker(), audit, strategyName, a.cfg.Trading.TimeoutDays)
			manager.Apply(ctx, detected)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass and rebuild the ticker and bar caches")
	return cmd
}
