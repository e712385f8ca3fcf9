package cli

import (
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"gotrader/internal/execution"
	"gotrader/internal/lifecycle"
	"gotrader/internal/metrics"
	"gotrader/internal/model"
)

// processSignalsCmd places orders for every signal due today.
func processSignalsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process-signals",
		Short: "Place broker orders for due signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, trader, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			processor := execution.NewProcessor(trader, a.openBroker())
			processor.PositionPct = decimal.NewFromFloat(a.cfg.Trading.PositionPct)
			processor.StopPct = decimal.NewFromFloat(a.cfg.Trading.StopPct)

			err = processor.ProcessPending(cmd.Context(), model.Today())
			if errors.Is(err, execution.ErrAccountDisabled) {
				slog.Error("account is not enabled for trading, exiting")
			}
			return err
		},
	}
}

// monitorOrdersCmd follows the trade-update stream and mirrors every order
// snapshot into the store until interrupted.
func monitorOrdersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor-orders",
		Short: "Stream trade updates and record order snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			br := a.openBroker()

			enabled, account, err := br.Account(ctx)
			if err != nil {
				return err
			}
			if !enabled {
				slog.Error("account is not enabled for trading, exiting", "status", account.Status)
				return errors.New("account is not enabled for trading")
			}

			db, trader, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			server := metrics.Serve(a.cfg.App.MetricsAddr)
			defer server.Close()
			slog.Info("serving metrics", "addr", a.cfg.App.MetricsAddr)

			audit, err := a.openAudit()
			if err != nil {
				return err
			}
			defer audit.Close()

			// Reconcile on a ticker while the stream runs, so fills the
			// stream delivered are promoted to closed trades promptly.
			manager := lifecycle.NewManager(trader, br, audit, strategyName, a.cfg.Trading.TimeoutDays)
			go func() {
				ticker := time.NewTicker(a.cfg.Trading.ReconcileInterval.Std())
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						manager.Reconcile(ctx)
						manager.CloseCompleted(ctx)
					}
				}
			}()

			slog.Info("starting order stream")
			err = br.StreamTradeUpdates(ctx, func(event string, order *model.Order) {
				metrics.OrderUpdates.WithLabelValues(event).Inc()
				if err := trader.UpsertOrder(ctx, model.OrderKey(order.ID), order); err != nil {
					slog.Error("record order snapshot failed", "order_id", order.ID, "error", err)
					return
				}
				slog.Info("order update",
					"event", event,
					"symbol", order.Symbol,
					"side", order.Side,
					"type", order.Type,
					"status", order.Status)
			})
			if err != nil {
				return err
			}
			slog.Info("order stream stopped, shutting down")
			return nil
		},
	}
}

// completeTheTradeCmd reconciles open trades against broker truth, sweeps
// stale singles, and closes out finished round trips.
func completeTheTradeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete-the-trade",
		Short: "Reconcile, time out, and close open trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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
			manager.Reconcile(ctx)
			manager.SweepTimeouts(ctx)
			manager.CloseCompleted(ctx)
			return nil
		},
	}
}
