package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/memetrade/allocator/internal/alerts"
	"github.com/memetrade/allocator/internal/config"
	"github.com/memetrade/allocator/internal/engine"
	"github.com/memetrade/allocator/internal/execution"
	"github.com/memetrade/allocator/internal/ledger"
	"github.com/memetrade/allocator/internal/mode"
	"github.com/memetrade/allocator/internal/observ"
	"github.com/memetrade/allocator/internal/oracle"
	"github.com/memetrade/allocator/internal/outbox"
	"github.com/memetrade/allocator/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			observ.LogError("config_load_failed", err, map[string]any{"path": *configPath})
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observ.Log("allocator_starting", map[string]any{
		"trading_mode": cfg.TradingMode,
		"redis_addr":   cfg.Redis.Addr,
		"instrument":   cfg.Execution.Instrument,
	})

	client, err := store.NewClient(ctx, cfg.Redis)
	if err != nil {
		// Degraded start: every store read falls back, the engine seeds the
		// default catalog and keeps retrying through normal cycle traffic.
		observ.LogError("redis_unreachable", err, map[string]any{"addr": cfg.Redis.Addr})
	}
	defer client.Close()
	st := store.New(client)

	box, err := outbox.New(cfg.Execution.OutboxPath)
	if err != nil {
		observ.LogError("outbox_open_failed", err, map[string]any{"path": cfg.Execution.OutboxPath})
		os.Exit(1)
	}
	defer box.Close()

	led := ledger.New(cfg.Execution.StartingBalanceUSD)
	prices := oracle.New(oracle.NewRedisSource(client), oracle.Config{
		Timeout:          time.Duration(cfg.Oracle.TimeoutMs) * time.Millisecond,
		FetchesPerSec:    cfg.Oracle.FetchesPerSec,
		FallbackPriceUSD: cfg.Execution.FallbackPriceUSD,
	})
	sim := execution.NewSimulator(execution.FeeSchedule{
		PlatformFeePct:      cfg.Execution.PlatformFeePct,
		PriorityFeeLamports: cfg.Execution.PriorityFeeLamports,
		NetworkFeeUSD:       cfg.Execution.NetworkFeeUSD,
		SolPriceUSD:         cfg.Execution.SolPriceUSD,
	}, prices, execution.NewRandomMarketModel(time.Now().UnixNano()), led, box)

	eng := engine.New(cfg, engine.Deps{
		Store:        st,
		Trader:       sim,
		Ledger:       led,
		Pricer:       prices,
		PaperSignals: execution.NewRandomSignalSource(time.Now().UnixNano()),
		Supervisor:   mode.NewSupervisor(mode.Thresholds{
			MinTradeCount: cfg.Promotion.MinTradeCount,
			PromoteSharpe: cfg.Promotion.PromoteSharpe,
			DemoteSharpe:  cfg.Promotion.DemoteSharpe,
		}, cfg.PaperMode()),
		Notifier: alerts.New(cfg.Alerts),
	})
	eng.Init(ctx)

	if cfg.Metrics.Enabled {
		srv := observ.ServeMetrics(cfg.Metrics.Addr)
		defer observ.ShutdownMetrics(srv)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.RunAllocationLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		eng.RunExecutionLoop(ctx)
	}()

	<-ctx.Done()
	observ.Log("shutdown_requested", nil)
	wg.Wait()
	observ.Log("allocator_stopped", nil)
}
