// Package cli wires the daily pipeline and the order-management commands
// behind one cobra root. Each subcommand builds only the dependencies it
// needs; nothing trades unless the broker account gate passes.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gotrader/internal/broker"
	"gotrader/internal/cache"
	"gotrader/internal/config"
	"gotrader/internal/lifecycle"
	"gotrader/internal/store"
)

const strategyName = "RSI"

type app struct {
	cfg   config.Config
	runID string
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		a          app
		configPath string
		logLevel   string
		live       bool
	)

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Daily RSI signal pipeline and trade lifecycle manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(logLevel); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if live {
				cfg.Paper = false
			}
			a.cfg = cfg
			a.runID = uuid.NewString()
			slog.Info("starting run", "run_id", a.runID, "paper", cfg.Paper)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML settings file")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "v", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&live, "live", "l", false, "execute against the live account")

	root.AddCommand(rsiCmd(&a))
	root.AddCommand(processSignalsCmd(&a))
	root.AddCommand(monitorOrdersCmd(&a))
	root.AddCommand(completeTheTradeCmd(&a))

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}
	return 0
}

func setupLogging(level string) error {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// openStore opens the document store; the caller owns the close.
func (a *app) openStore() (*store.DB, *store.Trader, error) {
	db, err := store.Open(a.cfg.App.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewTrader(db), nil
}

func (a *app) openBroker() *broker.Client {
	return broker.New(a.cfg.APIKey, a.cfg.APISecret, a.cfg.Paper)
}

func (a *app) openCache() *cache.Cache {
	return cache.New(a.cfg.App.CacheDir)
}

func (a *app) openAudit() (*lifecycle.AuditLogger, error) {
	return lifecycle.NewAuditLogger(a.cfg.App.AuditPath, a.runID)
}
