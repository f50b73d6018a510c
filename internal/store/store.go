// Package store is the engine's bridge to the Redis keys the wider system
// shares: per-strategy performance hashes, signal lists, the allocation
// update stream and the downstream executor queue.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memetrade/allocator/internal/config"
	"github.com/memetrade/allocator/internal/strategy"
)

const (
	perfKeyPrefix    = "strategy:performance:"
	signalsKeyPrefix = "strategy:signals:"
	currentKeyPrefix = "allocation:current:"
	allocationStream = "allocation_updates"
	tradeQueueKey    = "executor:trade_queue"
)

// Store wraps a shared Redis client.
type Store struct {
	client *redis.Client
}

// New wraps an existing client; the caller owns its lifecycle.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewClient dials Redis from config. A failed ping is reported but the
// client is still returned: the engine runs degraded on cached defaults
// until the store comes back.
func NewClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// StrategyIDs lists every strategy with a persisted performance hash.
func (s *Store) StrategyIDs(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, perfKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list performance keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, perfKeyPrefix))
	}
	return ids, nil
}

// LoadPerformance reads one strategy's persisted metrics. A missing hash
// is not an error; ok=false tells the caller to keep its current values.
func (s *Store) LoadPerformance(ctx context.Context, strategyID string) (PerformanceRow, bool, error) {
	fields, err := s.client.HGetAll(ctx, perfKeyPrefix+strategyID).Result()
	if err != nil {
		return PerformanceRow{}, false, fmt.Errorf("load performance %s: %w", strategyID, err)
	}
	if len(fields) == 0 {
		return PerformanceRow{}, false, nil
	}
	return rowFromHash(fields), true, nil
}

// SavePerformance writes one strategy's metrics after an execution cycle.
// Fields absent from the update keep their stored values.
func (s *Store) SavePerformance(ctx context.Context, strategyID string, u PerformanceUpdate) error {
	if err := s.client.HSet(ctx, perfKeyPrefix+strategyID, u.hash()).Err(); err != nil {
		return fmt.Errorf("save performance %s: %w", strategyID, err)
	}
	return nil
}

// SeedPerformance persists a freshly created default catalog entry.
func (s *Store) SeedPerformance(ctx context.Context, rec strategy.Record) error {
	fields := map[string]any{
		"allocation_pct": fmt.Sprintf("%.2f", rec.AllocationPct),
		"trade_count":    fmt.Sprintf("%d", rec.TradeCount),
		"sharpe_ratio":   fmt.Sprintf("%.4f", rec.SharpeRatio),
		"total_pnl":      fmt.Sprintf("%.2f", rec.TotalPnLUSD),
		"mode":           string(rec.Mode),
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.client.HSet(ctx, perfKeyPrefix+rec.ID, fields).Err(); err != nil {
		return fmt.Errorf("seed performance %s: %w", rec.ID, err)
	}
	return nil
}

// PublishSnapshot appends the full allocation mapping to the update stream
// and mirrors each strategy into its current-state hash for point lookups.
func (s *Store) PublishSnapshot(ctx context.Context, snap strategy.Snapshot) error {
	perStrategy := make(map[string]map[string]any, len(snap.Records))
	for _, rec := range snap.Records {
		perStrategy[rec.ID] = map[string]any{
			"allocation_pct": rec.AllocationPct,
			"mode":           string(rec.Mode),
			"trade_count":    rec.TradeCount,
			"sharpe_ratio":   rec.SharpeRatio,
			"total_pnl":      rec.TotalPnLUSD,
			"updated_at":     snap.TakenAt.Format(time.RFC3339),
		}
	}
	payload, err := json.Marshal(perStrategy)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: allocationStream,
		Values: map[string]any{
			"allocations":    string(payload),
			"timestamp":      snap.TakenAt.Format(time.RFC3339),
			"allocator_mode": snap.AllocatorMode,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	for id, fields := range perStrategy {
		if err := s.client.HSet(ctx, currentKeyPrefix+id, fields).Err(); err != nil {
			return fmt.Errorf("mirror allocation %s: %w", id, err)
		}
	}
	return nil
}

// RecentSignals returns the newest n entries of a strategy's signal list,
// preserving each entry's list index so consumption can be written back.
func (s *Store) RecentSignals(ctx context.Context, strategyID string, n int64) ([]Signal, error) {
	raws, err := s.client.LRange(ctx, signalsKeyPrefix+strategyID, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read signals %s: %w", strategyID, err)
	}
	signals := make([]Signal, 0, len(raws))
	for i, raw := range raws {
		sig, err := parseSignal(raw)
		if err != nil {
			// One malformed entry must not block the rest of the list.
			continue
		}
		sig.Index = int64(i)
		signals = append(signals, sig)
	}
	return signals, nil
}

// MarkSignalExecuted writes the signal back in place with executed=true so
// later cycles skip it.
func (s *Store) MarkSignalExecuted(ctx context.Context, strategyID string, sig Signal, at time.Time) error {
	sig.Executed = true
	sig.ExecutionTime = at.UTC().Format(time.RFC3339)
	b, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := s.client.LSet(ctx, signalsKeyPrefix+strategyID, sig.Index, string(b)).Err(); err != nil {
		return fmt.Errorf("mark signal %s[%d]: %w", strategyID, sig.Index, err)
	}
	return nil
}

// PushTradeInstruction queues a command for the downstream executor. This
// is an instruction, not a confirmation.
func (s *Store) PushTradeInstruction(ctx context.Context, instr TradeInstruction) error {
	b, err := json.Marshal(instr)
	if err != nil {
		return fmt.Errorf("marshal instruction: %w", err)
	}
	if err := s.client.LPush(ctx, tradeQueueKey, string(b)).Err(); err != nil {
		return fmt.Errorf("push instruction: %w", err)
	}
	return nil
}
