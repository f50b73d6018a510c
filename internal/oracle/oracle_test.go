package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	price Price
	err   error
	calls int
}

func (s *scriptedSource) LatestPrice(_ context.Context, instrument string) (Price, error) {
	s.calls++
	if s.err != nil {
		return Price{}, s.err
	}
	p := s.price
	p.Instrument = instrument
	return p, nil
}

func TestCurrentPrice_ServesFreshValue(t *testing.T) {
	src := &scriptedSource{price: Price{USD: 231.5, Source: "pyth", Timestamp: time.Now().UTC()}}
	o := New(src, Config{FallbackPriceUSD: 240, FetchesPerSec: 1000})

	got := o.CurrentPrice(context.Background(), "SOL")
	assert.Equal(t, 231.5, got.USD)
	assert.Equal(t, "pyth", got.Source)
	assert.Equal(t, "SOL", got.Instrument)
}

func TestCurrentPrice_FallsBackWhenFeedIsDown(t *testing.T) {
	src := &scriptedSource{err: errors.New("connection refused")}
	o := New(src, Config{FallbackPriceUSD: 240, FetchesPerSec: 1000})

	got := o.CurrentPrice(context.Background(), "SOL")
	assert.Equal(t, 240.0, got.USD)
	assert.Equal(t, "fallback", got.Source)
}

func TestCurrentPrice_PrefersCachedOverFallback(t *testing.T) {
	src := &scriptedSource{price: Price{USD: 230, Source: "pyth", Timestamp: time.Now().UTC()}}
	o := New(src, Config{FallbackPriceUSD: 240, FetchesPerSec: 1000})

	first := o.CurrentPrice(context.Background(), "SOL")
	require.Equal(t, 230.0, first.USD)

	src.err = errors.New("feed gone")
	second := o.CurrentPrice(context.Background(), "SOL")
	assert.Equal(t, 230.0, second.USD, "last good value survives the outage")
	assert.Equal(t, "cache", second.Source)
}

func TestCurrentPrice_RateLimiterShieldsTheFeed(t *testing.T) {
	src := &scriptedSource{price: Price{USD: 230, Source: "pyth", Timestamp: time.Now().UTC()}}
	// One fetch per hour with burst 1: only the first call reaches upstream.
	o := New(src, Config{FallbackPriceUSD: 240, FetchesPerSec: 1.0 / 3600})

	for i := 0; i < 5; i++ {
		got := o.CurrentPrice(context.Background(), "SOL")
		assert.Equal(t, 230.0, got.USD)
	}
	assert.Equal(t, 1, src.calls)
}

func TestCurrentPrice_RejectsNonPositivePrices(t *testing.T) {
	src := &scriptedSource{price: Price{USD: 0, Source: "pyth"}}
	o := New(src, Config{FallbackPriceUSD: 240, FetchesPerSec: 1000})

	got := o.CurrentPrice(context.Background(), "SOL")
	assert.Equal(t, 240.0, got.USD)
}

func TestStaticSource(t *testing.T) {
	p, err := StaticSource{PriceUSD: 150}.LatestPrice(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, p.USD)
	assert.Equal(t, "SOL", p.Instrument)
}
