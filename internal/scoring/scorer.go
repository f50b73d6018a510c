// Package scoring computes the composite performance score that drives
// capital allocation: a Sharpe component, a PnL component and a recency
// bonus for strategies that traded in the last day.
package scoring

import (
	"math"
	"time"

	"github.com/memetrade/allocator/internal/strategy"
)

const (
	sharpeWeight    = 10.0
	pnlDivisorUSD   = 1000.0
	recencyMax      = 5.0
	recencyWindowHr = 24.0
	minScore        = 1.0
)

// Score returns a strictly positive score per strategy. Missing inputs
// contribute zero, never an error: an inactive but registered strategy
// still scores the minimum so the allocator never starves it entirely.
func Score(records []strategy.Record, now time.Time) map[string]float64 {
	scores := make(map[string]float64, len(records))
	for _, r := range records {
		sharpeScore := math.Max(0, r.SharpeRatio*sharpeWeight)
		pnlScore := math.Max(0, r.TotalPnLUSD/pnlDivisorUSD)

		recencyScore := 0.0
		if !r.LastTradeAt.IsZero() {
			hours := now.Sub(r.LastTradeAt).Hours()
			if hours < 0 {
				hours = 0 // clock skew in the store; treat as just traded
			}
			if hours < recencyWindowHr {
				recencyScore = recencyMax * (1 - hours/recencyWindowHr)
			}
		}

		scores[r.ID] = math.Max(minScore, sharpeScore+pnlScore+recencyScore)
	}
	return scores
}
