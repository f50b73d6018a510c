package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsFillZeroFields(t *testing.T) {
	path := writeConfig(t, "trading_mode: paper\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Loops.AllocationIntervalSecs != 300 {
		t.Fatalf("allocation interval = %d, want 300", c.Loops.AllocationIntervalSecs)
	}
	if c.Loops.ExecutionIntervalSecs != 2 {
		t.Fatalf("execution interval = %d, want 2", c.Loops.ExecutionIntervalSecs)
	}
	if c.Loops.AllocationCooldownSecs != 30 || c.Loops.ExecutionCooldownSecs != 5 {
		t.Fatalf("cooldowns = %d/%d, want 30/5", c.Loops.AllocationCooldownSecs, c.Loops.ExecutionCooldownSecs)
	}
	if c.Promotion.MinTradeCount != 100 || c.Promotion.PromoteSharpe != 1.25 || c.Promotion.DemoteSharpe != 0.8 {
		t.Fatalf("promotion = %+v", c.Promotion)
	}
	if c.Execution.StartingBalanceUSD != 100000 {
		t.Fatalf("starting balance = %v", c.Execution.StartingBalanceUSD)
	}
	if c.Execution.FallbackPriceUSD != 240 {
		t.Fatalf("fallback price = %v", c.Execution.FallbackPriceUSD)
	}
	if c.Execution.SignalStalenessSecs != 300 {
		t.Fatalf("staleness = %d, want 300", c.Execution.SignalStalenessSecs)
	}
	if !c.PaperMode() {
		t.Fatal("paper trading_mode must report PaperMode")
	}
}

func TestLoad_ExplicitValuesSurviveDefaulting(t *testing.T) {
	path := writeConfig(t, `
trading_mode: live
redis:
  addr: 10.0.0.5:6380
loops:
  allocation_interval_seconds: 60
execution:
  instrument: BONK
  max_slippage_bps: 75
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PaperMode() {
		t.Fatal("live trading_mode must not report PaperMode")
	}
	if c.Redis.Addr != "10.0.0.5:6380" {
		t.Fatalf("redis addr = %s", c.Redis.Addr)
	}
	if c.Loops.AllocationIntervalSecs != 60 {
		t.Fatalf("allocation interval = %d", c.Loops.AllocationIntervalSecs)
	}
	if c.Execution.Instrument != "BONK" || c.Execution.MaxSlippageBps != 75 {
		t.Fatalf("execution = %+v", c.Execution)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis-prod")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("PAPER_TRADING_MODE", "false")
	t.Setenv("JITO_TIP_LAMPORTS", "250000")

	path := writeConfig(t, "trading_mode: paper\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Redis.Addr != "redis-prod:7000" {
		t.Fatalf("redis addr = %s", c.Redis.Addr)
	}
	if c.PaperMode() {
		t.Fatal("PAPER_TRADING_MODE=false must force live mode")
	}
	if c.Execution.PriorityFeeLamports != 250000 {
		t.Fatalf("priority fee = %d", c.Execution.PriorityFeeLamports)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing config file")
	}
}
