// Package ledger tracks per-strategy, per-instrument holdings, cost basis
// and PnL. Only the execution simulator mutates it.
package ledger

import (
	"errors"
	"sync"
	"time"
)

// ErrInsufficientPosition rejects a sell larger than the current long
// quantity. The ledger is left untouched; there are no partial fills.
var ErrInsufficientPosition = errors.New("insufficient position for sell")

// Position is a value snapshot of one (strategy, instrument) holding.
// AvgPrice is meaningful only while Quantity > 0; flattening a position
// keeps the record and the cost basis resets on the next buy.
type Position struct {
	StrategyID       string  `json:"strategy_id"`
	Instrument       string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgPrice         float64 `json:"avg_price"`
	RealizedPnLUSD   float64 `json:"realized_pnl"`
	UnrealizedPnLUSD float64 `json:"unrealized_pnl"`
}

// Totals aggregates a strategy's account for the performance store.
type Totals struct {
	CashBalanceUSD   float64
	PositionValueUSD float64
	TotalValueUSD    float64
	RealizedPnLUSD   float64
	UnrealizedPnLUSD float64
	TotalPnLUSD      float64
}

// Ledger owns all position and cash state. Each strategy starts with the
// same cash balance; buys debit and sells credit at the fill price.
type Ledger struct {
	mu              sync.RWMutex
	startingBalance float64
	positions       map[string]map[string]*Position // strategy -> instrument
	cash            map[string]float64
	tradeCounts     map[string]int
	lastTrade       map[string]time.Time
}

// New creates an empty ledger with the given per-strategy starting cash.
func New(startingBalanceUSD float64) *Ledger {
	return &Ledger{
		startingBalance: startingBalanceUSD,
		positions:       make(map[string]map[string]*Position),
		cash:            make(map[string]float64),
		tradeCounts:     make(map[string]int),
		lastTrade:       make(map[string]time.Time),
	}
}

// SeedActivity primes a strategy's trade count and last trade time from
// persisted metrics, so counts keep growing across restarts instead of
// resetting to zero.
func (l *Ledger) SeedActivity(strategyID string, trades int, last time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradeCounts[strategyID] = trades
	if !last.IsZero() {
		l.lastTrade[strategyID] = last
	}
}

func (l *Ledger) position(strategyID, instrument string) *Position {
	byInstrument, ok := l.positions[strategyID]
	if !ok {
		byInstrument = make(map[string]*Position)
		l.positions[strategyID] = byInstrument
	}
	pos, ok := byInstrument[instrument]
	if !ok {
		pos = &Position{StrategyID: strategyID, Instrument: instrument}
		byInstrument[instrument] = pos
	}
	return pos
}

func (l *Ledger) ensureCash(strategyID string) {
	if _, ok := l.cash[strategyID]; !ok {
		l.cash[strategyID] = l.startingBalance
	}
}

// ApplyBuy accumulates quantity at a blended average price and debits cash.
func (l *Ledger) ApplyBuy(strategyID, instrument string, quantity, price float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureCash(strategyID)
	pos := l.position(strategyID, instrument)

	totalCost := pos.Quantity*pos.AvgPrice + quantity*price
	totalQty := pos.Quantity + quantity
	if totalQty > 0 {
		pos.AvgPrice = totalCost / totalQty
	}
	pos.Quantity = totalQty

	l.cash[strategyID] -= quantity * price
	l.recordTrade(strategyID, at)
}

// ApplySell realizes PnL against the average cost, decreases quantity and
// credits cash. The cost basis of the remaining quantity is unchanged.
// Selling more than the current quantity returns ErrInsufficientPosition
// with no mutation.
func (l *Ledger) ApplySell(strategyID, instrument string, quantity, price float64, at time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureCash(strategyID)
	pos := l.position(strategyID, instrument)
	if pos.Quantity < quantity {
		return 0, ErrInsufficientPosition
	}

	realized := quantity * (price - pos.AvgPrice)
	pos.RealizedPnLUSD += realized
	pos.Quantity -= quantity

	l.cash[strategyID] += quantity * price
	l.recordTrade(strategyID, at)
	return realized, nil
}

func (l *Ledger) recordTrade(strategyID string, at time.Time) {
	l.tradeCounts[strategyID]++
	l.lastTrade[strategyID] = at
}

// Quantity returns the current long quantity for a holding.
func (l *Ledger) Quantity(strategyID, instrument string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[strategyID][instrument]; ok {
		return pos.Quantity
	}
	return 0
}

// Position returns a copy of one holding, with unrealized PnL marked to
// the given price. Unrealized PnL is always derived, never stored.
func (l *Ledger) Position(strategyID, instrument string, currentPrice float64) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[strategyID][instrument]
	if !ok {
		return Position{}, false
	}
	out := *pos
	if out.Quantity > 0 {
		out.UnrealizedPnLUSD = out.Quantity * (currentPrice - out.AvgPrice)
	}
	return out, true
}

// Positions returns marked copies of every holding for a strategy.
func (l *Ledger) Positions(strategyID string, currentPrice float64) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions[strategyID]))
	for _, pos := range l.positions[strategyID] {
		p := *pos
		if p.Quantity > 0 {
			p.UnrealizedPnLUSD = p.Quantity * (currentPrice - p.AvgPrice)
		}
		out = append(out, p)
	}
	return out
}

// StrategyTotals marks a strategy's holdings to the current price and
// aggregates cash, position value and PnL.
func (l *Ledger) StrategyTotals(strategyID string, currentPrice float64) Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cash, ok := l.cash[strategyID]
	if !ok {
		cash = l.startingBalance
	}
	t := Totals{CashBalanceUSD: cash}
	for _, pos := range l.positions[strategyID] {
		t.PositionValueUSD += pos.Quantity * currentPrice
		t.RealizedPnLUSD += pos.RealizedPnLUSD
		if pos.Quantity > 0 {
			t.UnrealizedPnLUSD += pos.Quantity * (currentPrice - pos.AvgPrice)
		}
	}
	t.TotalValueUSD = t.CashBalanceUSD + t.PositionValueUSD
	t.TotalPnLUSD = t.RealizedPnLUSD + t.UnrealizedPnLUSD
	return t
}

// TradeCount returns fills recorded for a strategy, including seeded ones.
func (l *Ledger) TradeCount(strategyID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradeCounts[strategyID]
}

// LastTradeAt returns the time of the strategy's most recent fill.
func (l *Ledger) LastTradeAt(strategyID string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.lastTrade[strategyID]
	return t, ok
}
