package execution

import (
	"math/rand"
	"sync"
	"time"
)

// RandomMarketModel reproduces typical venue conditions with bounded
// random factors. It stands in for a real market-data-driven model.
type RandomMarketModel struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomMarketModel seeds the model; use a fixed seed for replayable runs.
func NewRandomMarketModel(seed int64) *RandomMarketModel {
	return &RandomMarketModel{r: rand.New(rand.NewSource(seed))}
}

// BaseSlippagePct draws from the 0.05%-0.3% band typical for DEX fills.
func (m *RandomMarketModel) BaseSlippagePct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0.0005 + m.r.Float64()*0.0025
}

// VolatilityFactor draws from [0.8, 1.5].
func (m *RandomMarketModel) VolatilityFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0.8 + m.r.Float64()*0.7
}

// TimeOfDayFactor penalizes the 22:00-06:00 low-liquidity window.
func (m *RandomMarketModel) TimeOfDayFactor(t time.Time) float64 {
	hour := t.Hour()
	if hour >= 22 || hour <= 6 {
		return 1.5
	}
	return 1.0
}

// FixedMarketModel pins every factor; tests use it for exact arithmetic.
type FixedMarketModel struct {
	Base float64
	Vol  float64
	Tod  float64
}

func (m FixedMarketModel) BaseSlippagePct() float64            { return m.Base }
func (m FixedMarketModel) VolatilityFactor() float64           { return m.Vol }
func (m FixedMarketModel) TimeOfDayFactor(time.Time) float64   { return m.Tod }
