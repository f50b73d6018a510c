package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PerformanceRow is the persisted per-strategy metric hash as read at
// startup and on each refresh. Missing or malformed fields parse to zero,
// never to an error.
type PerformanceRow struct {
	AllocationPct float64
	TradeCount    int
	SharpeRatio   float64
	TotalPnLUSD   float64
	Mode          string
	LastTradeAt   time.Time
}

// PerformanceUpdate is what the execution loop writes back after marking
// positions to market.
type PerformanceUpdate struct {
	TradeCount       int
	SharpeRatio      float64
	TotalPnLUSD      float64
	UnrealizedPnLUSD float64
	RealizedPnLUSD   float64
	CashBalanceUSD   float64
	PositionValueUSD float64
	TotalValueUSD    float64
	Mode             string
	LastTradeAt      time.Time
	LastUpdated      time.Time
}

func (u PerformanceUpdate) hash() map[string]any {
	fields := map[string]any{
		"trade_count":    strconv.Itoa(u.TradeCount),
		"sharpe_ratio":   fmt.Sprintf("%.4f", u.SharpeRatio),
		"total_pnl":      fmt.Sprintf("%.2f", u.TotalPnLUSD),
		"unrealized_pnl": fmt.Sprintf("%.2f", u.UnrealizedPnLUSD),
		"realized_pnl":   fmt.Sprintf("%.2f", u.RealizedPnLUSD),
		"cash_balance":   fmt.Sprintf("%.2f", u.CashBalanceUSD),
		"position_value": fmt.Sprintf("%.2f", u.PositionValueUSD),
		"total_value":    fmt.Sprintf("%.2f", u.TotalValueUSD),
		"mode":           u.Mode,
		"last_updated":   u.LastUpdated.UTC().Format(time.RFC3339),
	}
	if !u.LastTradeAt.IsZero() {
		fields["last_trade_time"] = u.LastTradeAt.UTC().Format(time.RFC3339)
	}
	return fields
}

// Signal is one entry of a strategy's ordered signal list. Index is its
// position in the list at read time, kept so consumption can be written
// back in place.
type Signal struct {
	Index         int64   `json:"-"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Timestamp     string  `json:"timestamp"`
	Executed      bool    `json:"executed"`
	ExecutionTime string  `json:"execution_time,omitempty"`
}

// Age returns how old the signal is at now; unparseable timestamps age as
// infinitely old so they are discarded rather than replayed.
func (s Signal) Age(now time.Time) time.Duration {
	ts, err := time.Parse(time.RFC3339, s.Timestamp)
	if err != nil {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(ts)
}

// TradeInstruction is the command payload pushed to the downstream
// executor queue for every executed live signal.
type TradeInstruction struct {
	InstructionType     string  `json:"instruction_type"`
	StrategyID          string  `json:"strategy_id"`
	Symbol              string  `json:"symbol"`
	Side                string  `json:"side"`
	Quantity            float64 `json:"quantity"`
	MaxSlippageBps      int     `json:"max_slippage_bps"`
	PriorityFeeLamports int64   `json:"priority_fee_lamports"`
	Timestamp           string  `json:"timestamp"`
	Source              string  `json:"source"`
}

func parseSignal(raw string) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

func rowFromHash(fields map[string]string) PerformanceRow {
	row := PerformanceRow{
		AllocationPct: parseFloat(fields["allocation_pct"]),
		TradeCount:    parseInt(fields["trade_count"]),
		SharpeRatio:   parseFloat(fields["sharpe_ratio"]),
		TotalPnLUSD:   parseFloat(fields["total_pnl"]),
		Mode:          fields["mode"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["last_trade_time"]); err == nil {
		row.LastTradeAt = ts
	}
	return row
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
