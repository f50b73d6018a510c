// Package mode runs the per-strategy Paper/Live state machine.
package mode

import (
	"time"

	"github.com/memetrade/allocator/internal/strategy"
)

// Thresholds define the promotion and demotion rules. Both sharpe checks
// are strict inequalities; a strategy sitting exactly on a threshold does
// not transition.
type Thresholds struct {
	MinTradeCount int
	PromoteSharpe float64
	DemoteSharpe  float64
}

// DefaultThresholds are the production promotion gates.
func DefaultThresholds() Thresholds {
	return Thresholds{MinTradeCount: 100, PromoteSharpe: 1.25, DemoteSharpe: 0.8}
}

// Transition records one mode change for observability. Transitions are
// events, not stored history.
type Transition struct {
	StrategyID string
	From       strategy.Mode
	To         strategy.Mode
	At         time.Time
}

// Supervisor evaluates mode transitions once per allocation cycle.
type Supervisor struct {
	thresholds  Thresholds
	forcedPaper bool
}

// NewSupervisor builds a supervisor. forcedPaper is the process-wide
// policy that blocks every promotion regardless of metrics; demotion is
// unaffected by it.
func NewSupervisor(t Thresholds, forcedPaper bool) *Supervisor {
	return &Supervisor{thresholds: t, forcedPaper: forcedPaper}
}

// Evaluate re-checks every record against the rules, mutating modes in
// place, and returns the transitions that occurred this cycle. A record
// transitions at most once per call: promotion is considered before
// demotion, and a strategy already in its qualifying mode stays there
// without emitting a duplicate event.
func (s *Supervisor) Evaluate(records map[string]*strategy.Record, now time.Time) []Transition {
	var transitions []Transition
	for _, id := range strategy.SortedIDs(records) {
		rec := records[id]
		switch rec.Mode {
		case strategy.ModePaper:
			if s.forcedPaper {
				continue
			}
			if rec.TradeCount >= s.thresholds.MinTradeCount && rec.SharpeRatio > s.thresholds.PromoteSharpe {
				rec.Mode = strategy.ModeLive
				transitions = append(transitions, Transition{
					StrategyID: id, From: strategy.ModePaper, To: strategy.ModeLive, At: now,
				})
			}
		case strategy.ModeLive:
			if rec.SharpeRatio < s.thresholds.DemoteSharpe {
				rec.Mode = strategy.ModePaper
				transitions = append(transitions, Transition{
					StrategyID: id, From: strategy.ModeLive, To: strategy.ModePaper, At: now,
				})
			}
		}
	}
	return transitions
}
