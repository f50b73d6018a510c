package observ

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts allocation and execution cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_cycles_total",
		Help: "Completed control-loop cycles.",
	}, []string{"loop", "status"})

	// OrdersTotal counts simulated fills.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_orders_total",
		Help: "Orders filled by the execution simulator.",
	}, []string{"strategy", "side"})

	// RejectedSellsTotal counts sells rejected for insufficient position.
	RejectedSellsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocator_rejected_sells_total",
		Help: "Sell orders rejected at the position pre-check.",
	})

	// ModeTransitionsTotal counts promotions and demotions.
	ModeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_mode_transitions_total",
		Help: "Strategy mode transitions by direction.",
	}, []string{"direction"})

	// LoopErrorsTotal counts cycle failures that triggered a cooldown.
	LoopErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_loop_errors_total",
		Help: "Cycle failures per control loop.",
	}, []string{"loop"})

	// AllocationPct exports the latest published allocation per strategy.
	AllocationPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_allocation_pct",
		Help: "Current capital allocation percentage.",
	}, []string{"strategy"})

	// SharpeRatio exports the latest sharpe per strategy.
	SharpeRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_sharpe_ratio",
		Help: "Current simplified sharpe ratio.",
	}, []string{"strategy"})

	// SlippagePct observes realized slippage per fill.
	SlippagePct = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocator_slippage_pct",
		Help:    "Slippage applied to simulated fills.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 8),
	})
)

// ServeMetrics exposes /metrics on addr and returns the server so the
// caller can drain it on shutdown.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			LogError("metrics_server_stopped", err, map[string]any{"addr": addr})
		}
	}()
	return srv
}

// ShutdownMetrics drains the metrics server with a bounded wait.
func ShutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
