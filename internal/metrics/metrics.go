package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_signals_created_total", Help: "Signals persisted, by action"},
		[]string{"action"},
	)
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_orders_placed_total", Help: "Broker orders placed, by side"},
		[]string{"side"},
	)
	OrderUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_order_updates_total", Help: "Trade update stream events, by event type"},
		[]string{"event"},
	)
	TradesClosed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trader_trades_closed_total", Help: "Trades closed with a summary"},
	)
	ReconcileErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trader_reconcile_errors_total", Help: "Errors while reconciling order state"},
	)
)

func init() {
	prometheus.MustRegister(SignalsCreated, OrdersPlaced, OrderUpdates, TradesClosed, ReconcileErrors)
}

// Serve exposes /metrics on addr in the background and returns the server so
// the caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
