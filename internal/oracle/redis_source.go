package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads the newest entry from the price event stream the data
// consumers publish (one stream per instrument, e.g. events:sol_price).
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource wraps an existing client; the caller owns its lifecycle.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

type priceEvent struct {
	PriceUSD  float64 `json:"price_usd"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

func streamKey(instrument string) string {
	return fmt.Sprintf("events:%s_price", strings.ToLower(instrument))
}

// LatestPrice returns the most recent observation on the stream.
func (s *RedisSource) LatestPrice(ctx context.Context, instrument string) (Price, error) {
	key := streamKey(instrument)
	msgs, err := s.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return Price{}, fmt.Errorf("read %s: %w", key, err)
	}
	if len(msgs) == 0 {
		return Price{}, fmt.Errorf("no price events on %s", key)
	}

	raw, ok := msgs[0].Values["event"].(string)
	if !ok {
		return Price{}, fmt.Errorf("malformed price event on %s", key)
	}
	var ev priceEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Price{}, fmt.Errorf("decode price event: %w", err)
	}
	if ev.PriceUSD <= 0 {
		return Price{}, fmt.Errorf("non-positive price %.4f on %s", ev.PriceUSD, key)
	}

	ts := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		ts = parsed
	}
	return Price{Instrument: instrument, USD: ev.PriceUSD, Source: ev.Source, Timestamp: ts}, nil
}
