// Package oracle supplies the latest known price for a traded instrument.
// Reads are bounded by a timeout and rate-limited; a last-good cache and a
// conservative hardcoded fallback guarantee the rest of a cycle can always
// proceed when the feed is unavailable.
package oracle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/memetrade/allocator/internal/observ"
)

// Price is one observation from the price feed.
type Price struct {
	Instrument string    `json:"instrument"`
	USD        float64   `json:"price_usd"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// Source is the upstream feed contract.
type Source interface {
	LatestPrice(ctx context.Context, instrument string) (Price, error)
}

// Config bounds the oracle's upstream access.
type Config struct {
	Timeout          time.Duration
	FetchesPerSec    float64
	FallbackPriceUSD float64
}

// Oracle wraps a Source with the degradation ladder: fresh read, then
// cached last-good value, then the fallback price.
type Oracle struct {
	src      Source
	timeout  time.Duration
	limiter  *rate.Limiter
	fallback float64

	mu    sync.RWMutex
	cache map[string]Price
}

// New builds an oracle around src.
func New(src Source, cfg Config) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.FetchesPerSec <= 0 {
		cfg.FetchesPerSec = 4
	}
	return &Oracle{
		src:      src,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.FetchesPerSec), 1),
		fallback: cfg.FallbackPriceUSD,
		cache:    make(map[string]Price),
	}
}

// CurrentPrice never fails. When the upstream read is skipped (rate
// limit), errors out or times out, the cached value is served; without a
// cached value the fallback price is used and logged.
func (o *Oracle) CurrentPrice(ctx context.Context, instrument string) Price {
	if o.limiter.Allow() {
		cctx, cancel := context.WithTimeout(ctx, o.timeout)
		p, err := o.src.LatestPrice(cctx, instrument)
		cancel()
		if err == nil && p.USD > 0 {
			p.Instrument = instrument
			o.mu.Lock()
			o.cache[instrument] = p
			o.mu.Unlock()
			return p
		}
		if err != nil {
			observ.LogError("price_fetch_degraded", err, map[string]any{"instrument": instrument})
		}
	}

	o.mu.RLock()
	cached, ok := o.cache[instrument]
	o.mu.RUnlock()
	if ok {
		cached.Source = "cache"
		return cached
	}

	observ.Log("price_fallback_used", map[string]any{
		"instrument": instrument,
		"price_usd":  o.fallback,
	})
	return Price{
		Instrument: instrument,
		USD:        o.fallback,
		Source:     "fallback",
		Timestamp:  time.Now().UTC(),
	}
}

// StaticSource serves a fixed price; used by tests and offline runs.
type StaticSource struct {
	PriceUSD float64
}

func (s StaticSource) LatestPrice(_ context.Context, instrument string) (Price, error) {
	return Price{
		Instrument: instrument,
		USD:        s.PriceUSD,
		Source:     "static",
		Timestamp:  time.Now().UTC(),
	}, nil
}
