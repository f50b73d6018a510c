// Package execution turns trade intents into synchronously filled orders
// with modeled slippage and fees, and is the only writer of the position
// ledger.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memetrade/allocator/internal/ledger"
	"github.com/memetrade/allocator/internal/observ"
	"github.com/memetrade/allocator/internal/oracle"
	"github.com/memetrade/allocator/internal/outbox"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes feed-provided side strings; anything unrecognized
// defaults to a buy, matching the upstream signal contract.
func ParseSide(s string) Side {
	if Side(s) == SideSell || s == "sell" || s == "Sell" {
		return SideSell
	}
	return SideBuy
}

// Order is immutable once filled. Every order fills immediately at a
// computed price; there are no partial fills or cancellations.
type Order struct {
	OrderID      string    `json:"order_id"`
	StrategyID   string    `json:"strategy_id"`
	Instrument   string    `json:"symbol"`
	Side         Side      `json:"side"`
	RequestedQty float64   `json:"requested_quantity"`
	FilledQty    float64   `json:"filled_quantity"`
	FillPrice    float64   `json:"fill_price"`
	FillTime     time.Time `json:"fill_time"`
	FeeUSD       float64   `json:"fee_usd"`
	SlippagePct  float64   `json:"slippage_pct"`
	FeePct       float64   `json:"fee_pct"`
	PriceSource  string    `json:"price_source"`
}

// MarketModel supplies the stochastic factors of the fill model. The
// default model is random; tests pin the factors.
type MarketModel interface {
	BaseSlippagePct() float64           // typical venue slippage, [0.0005, 0.003]
	VolatilityFactor() float64          // [0.8, 1.5]
	TimeOfDayFactor(t time.Time) float64 // 1.5 in low-liquidity hours, else 1.0
}

// Pricer supplies the reference price; satisfied by *oracle.Oracle.
type Pricer interface {
	CurrentPrice(ctx context.Context, instrument string) oracle.Price
}

const (
	maxSlippagePct       = 0.05
	maxFeePct            = 0.02
	sizeImpactDivisorUSD = 50000.0
	maxSizeImpactPct     = 0.02
	lamportsPerSol       = 1e9
)

// FeeSchedule mirrors the venue cost structure: a platform fee, a priority
// tip quoted in lamports, and a flat network fee.
type FeeSchedule struct {
	PlatformFeePct      float64
	PriorityFeeLamports int64
	NetworkFeeUSD       float64
	SolPriceUSD         float64 // converts the lamport tip to USD
}

// Simulator owns order creation and all ledger mutation.
type Simulator struct {
	fees   FeeSchedule
	pricer Pricer
	model  MarketModel
	ledger *ledger.Ledger
	log    *outbox.Outbox // optional
	now    func() time.Time

	mu     sync.Mutex
	orders []Order // append-only arena
}

// NewSimulator wires the fill model. box may be nil when no durable log is
// wanted (tests).
func NewSimulator(fees FeeSchedule, pricer Pricer, model MarketModel, led *ledger.Ledger, box *outbox.Outbox) *Simulator {
	return &Simulator{
		fees:   fees,
		pricer: pricer,
		model:  model,
		ledger: led,
		log:    box,
		now:    time.Now,
	}
}

// SetClock overrides the fill clock; tests pin time-of-day behavior.
func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

// PlaceOrder fills a trade intent synchronously. A sell for more than the
// current long quantity returns ledger.ErrInsufficientPosition with no
// state change; no other input fails.
func (s *Simulator) PlaceOrder(ctx context.Context, strategyID, instrument string, side Side, quantity float64) (Order, error) {
	if quantity <= 0 {
		return Order{}, fmt.Errorf("non-positive quantity %.6f", quantity)
	}

	ref := s.pricer.CurrentPrice(ctx, instrument)
	now := s.now().UTC()

	slippage := s.slippagePct(quantity, ref.USD, now)
	execPrice := ref.USD * (1 + slippage)
	if side == SideSell {
		execPrice = ref.USD * (1 - slippage)
	}

	notional := quantity * execPrice
	feePct := s.feePct(notional)
	feeUSD := notional * feePct

	filledQty := quantity
	if side == SideBuy {
		// Fees reduce the tokens received; the price is untouched.
		filledQty = quantity * (1 - feePct)
		s.ledger.ApplyBuy(strategyID, instrument, filledQty, execPrice, now)
	} else {
		// Fees reduce the proceeds; the quantity is untouched.
		execPrice *= 1 - feePct
		realized, err := s.ledger.ApplySell(strategyID, instrument, quantity, execPrice, now)
		if err != nil {
			observ.RejectedSellsTotal.Inc()
			return Order{}, err
		}
		observ.Log("pnl_realized", map[string]any{
			"strategy_id": strategyID,
			"symbol":      instrument,
			"realized":    realized,
		})
	}

	order := Order{
		OrderID:      uuid.NewString()[:8],
		StrategyID:   strategyID,
		Instrument:   instrument,
		Side:         side,
		RequestedQty: quantity,
		FilledQty:    filledQty,
		FillPrice:    execPrice,
		FillTime:     now,
		FeeUSD:       feeUSD,
		SlippagePct:  slippage,
		FeePct:       feePct,
		PriceSource:  ref.Source,
	}

	s.mu.Lock()
	s.orders = append(s.orders, order)
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.Append("order", order); err != nil {
			observ.LogError("outbox_append_failed", err, map[string]any{"order_id": order.OrderID})
		}
	}
	observ.OrdersTotal.WithLabelValues(strategyID, string(side)).Inc()
	observ.SlippagePct.Observe(slippage)
	observ.Log("order_filled", map[string]any{
		"order_id":     order.OrderID,
		"strategy_id":  strategyID,
		"symbol":       instrument,
		"side":         string(side),
		"quantity":     filledQty,
		"fill_price":   execPrice,
		"slippage_pct": slippage,
		"fee_usd":      feeUSD,
	})
	return order, nil
}

// slippagePct models venue slippage: a base component plus size impact,
// scaled by volatility and time of day, capped at 5%.
func (s *Simulator) slippagePct(quantity, refPrice float64, now time.Time) float64 {
	sizeImpact := math.Min(quantity*refPrice/sizeImpactDivisorUSD, maxSizeImpactPct)
	total := (s.model.BaseSlippagePct() + sizeImpact) * s.model.VolatilityFactor() * s.model.TimeOfDayFactor(now)
	return math.Min(total, maxSlippagePct)
}

// feePct sums the platform fee, the priority tip and the network fee as a
// fraction of notional, capped at 2% so dust orders are not wiped out.
func (s *Simulator) feePct(notionalUSD float64) float64 {
	total := s.fees.PlatformFeePct
	if notionalUSD > 0 {
		tipUSD := float64(s.fees.PriorityFeeLamports) / lamportsPerSol * s.fees.SolPriceUSD
		total += tipUSD / notionalUSD
		total += s.fees.NetworkFeeUSD / notionalUSD
	}
	return math.Min(total, maxFeePct)
}

// Orders returns a copy of the order arena.
func (s *Simulator) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}
