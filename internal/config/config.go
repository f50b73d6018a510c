package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Loops struct {
	AllocationIntervalSecs int `yaml:"allocation_interval_seconds"`
	ExecutionIntervalSecs  int `yaml:"execution_interval_seconds"`
	AllocationCooldownSecs int `yaml:"allocation_cooldown_seconds"`
	ExecutionCooldownSecs  int `yaml:"execution_cooldown_seconds"`
}

type Promotion struct {
	MinTradeCount int     `yaml:"min_trade_count"`
	PromoteSharpe float64 `yaml:"promote_sharpe"`
	DemoteSharpe  float64 `yaml:"demote_sharpe"`
}

type Execution struct {
	Instrument          string  `yaml:"instrument"`
	StartingBalanceUSD  float64 `yaml:"starting_balance_usd"`
	FallbackPriceUSD    float64 `yaml:"fallback_price_usd"`
	PlatformFeePct      float64 `yaml:"platform_fee_pct"`
	PriorityFeeLamports int64   `yaml:"priority_fee_lamports"`
	NetworkFeeUSD       float64 `yaml:"network_fee_usd"`
	SolPriceUSD         float64 `yaml:"sol_price_usd"` // lamports-to-USD conversion assumption
	MaxSlippageBps      int     `yaml:"max_slippage_bps"`
	SignalStalenessSecs int     `yaml:"signal_staleness_seconds"`
	SignalBatchSize     int64   `yaml:"signal_batch_size"`
	OutboxPath          string  `yaml:"outbox_path"`
}

type Oracle struct {
	TimeoutMs     int     `yaml:"timeout_ms"`
	FetchesPerSec float64 `yaml:"fetches_per_second"`
}

type Alerts struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Root struct {
	TradingMode string    `yaml:"trading_mode"` // paper | live
	Redis       Redis     `yaml:"redis"`
	Loops       Loops     `yaml:"loops"`
	Promotion   Promotion `yaml:"promotion"`
	Execution   Execution `yaml:"execution"`
	Oracle      Oracle    `yaml:"oracle"`
	Alerts      Alerts    `yaml:"alerts"`
	Metrics     Metrics   `yaml:"metrics"`
}

// PaperMode reports whether the process runs under the global
// forced-simulation policy: no strategy is promoted and no trade
// instruction leaves the engine.
func (c Root) PaperMode() bool {
	return strings.ToLower(c.TradingMode) != "live"
}

// Load reads the yaml config, fills defaults for every zero field, and
// applies the environment overrides the deployment images set.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	c.applyEnv()
	return c, nil
}

// Default returns the configuration used when no file is supplied.
func Default() Root {
	var c Root
	c.applyDefaults()
	c.applyEnv()
	return c
}

func (c *Root) applyDefaults() {
	if c.TradingMode == "" {
		c.TradingMode = "paper"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "redis:6379"
	}
	if c.Loops.AllocationIntervalSecs == 0 {
		c.Loops.AllocationIntervalSecs = 300
	}
	if c.Loops.ExecutionIntervalSecs == 0 {
		c.Loops.ExecutionIntervalSecs = 2
	}
	if c.Loops.AllocationCooldownSecs == 0 {
		c.Loops.AllocationCooldownSecs = 30
	}
	if c.Loops.ExecutionCooldownSecs == 0 {
		c.Loops.ExecutionCooldownSecs = 5
	}
	if c.Promotion.MinTradeCount == 0 {
		c.Promotion.MinTradeCount = 100
	}
	if c.Promotion.PromoteSharpe == 0 {
		c.Promotion.PromoteSharpe = 1.25
	}
	if c.Promotion.DemoteSharpe == 0 {
		c.Promotion.DemoteSharpe = 0.8
	}
	if c.Execution.Instrument == "" {
		c.Execution.Instrument = "SOL"
	}
	if c.Execution.StartingBalanceUSD == 0 {
		c.Execution.StartingBalanceUSD = 100000
	}
	if c.Execution.FallbackPriceUSD == 0 {
		c.Execution.FallbackPriceUSD = 240
	}
	if c.Execution.PlatformFeePct == 0 {
		c.Execution.PlatformFeePct = 0.0025
	}
	if c.Execution.PriorityFeeLamports == 0 {
		c.Execution.PriorityFeeLamports = 100000
	}
	if c.Execution.NetworkFeeUSD == 0 {
		c.Execution.NetworkFeeUSD = 0.01
	}
	if c.Execution.SolPriceUSD == 0 {
		c.Execution.SolPriceUSD = 200
	}
	if c.Execution.MaxSlippageBps == 0 {
		c.Execution.MaxSlippageBps = 50
	}
	if c.Execution.SignalStalenessSecs == 0 {
		c.Execution.SignalStalenessSecs = 300
	}
	if c.Execution.SignalBatchSize == 0 {
		c.Execution.SignalBatchSize = 5
	}
	if c.Execution.OutboxPath == "" {
		c.Execution.OutboxPath = "data/executions.jsonl"
	}
	if c.Oracle.TimeoutMs == 0 {
		c.Oracle.TimeoutMs = 2000
	}
	if c.Oracle.FetchesPerSec == 0 {
		c.Oracle.FetchesPerSec = 4
	}
	if c.Alerts.TimeoutMs == 0 {
		c.Alerts.TimeoutMs = 3000
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

// applyEnv honors the env names the original deployment used.
func (c *Root) applyEnv() {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.Redis.Addr = v + ":" + port
	}
	if v := os.Getenv("PAPER_TRADING_MODE"); v != "" {
		if strings.ToLower(v) == "true" {
			c.TradingMode = "paper"
		} else {
			c.TradingMode = "live"
		}
	}
	if v := os.Getenv("JITO_TIP_LAMPORTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Execution.PriorityFeeLamports = n
		}
	}
	if v := os.Getenv("SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxSlippageBps = n
		}
	}
}
