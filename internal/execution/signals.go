package execution

import (
	"math/rand"
	"sync"
	"time"
)

// SignalSource produces optional trade intents for strategies running in
// paper mode, keeping their trade counts and PnL moving so the scoring
// feedback loop stays alive. Quantity and side decisions are injected
// rather than hardwired so tests can supply deterministic intents.
type SignalSource interface {
	// Next returns a trade intent for the strategy, or ok=false when the
	// strategy sits this cycle out.
	Next(strategyID string, now time.Time) (side Side, quantity float64, ok bool)
}

// RandomSignalSource emits sparse random intents with per-strategy rates
// mirroring the catalog's historical signal frequencies.
type RandomSignalSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSignalSource seeds the source.
func NewRandomSignalSource(seed int64) *RandomSignalSource {
	return &RandomSignalSource{r: rand.New(rand.NewSource(seed))}
}

func (s *RandomSignalSource) Next(strategyID string, _ time.Time) (Side, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chance := 0.08
	switch strategyID {
	case "momentum_5m":
		chance = 0.10
	case "mean_revert_1h":
		chance = 0.15
	case "social_buzz":
		chance = 0.12
	}
	if s.r.Float64() >= chance {
		return SideBuy, 0, false
	}

	side := SideBuy
	if s.r.Float64() > 0.5 {
		side = SideSell
	}
	qty := 0.1 + s.r.Float64()*1.9
	return side, qty, true
}

// NoSignals is a SignalSource that never trades.
type NoSignals struct{}

func (NoSignals) Next(string, time.Time) (Side, float64, bool) { return SideBuy, 0, false }
