// Package engine drives the allocation control loop: score strategies,
// redistribute the capital budget, evaluate mode transitions, execute due
// signals against the simulator and publish the resulting snapshot.
//
// Two independent cadences run concurrently. The slow allocation loop owns
// and mutates the strategy catalog; the fast execution loop reads the last
// published snapshot (copy-on-publish) and owns nothing but its signal
// consumption.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/memetrade/allocator/internal/allocation"
	"github.com/memetrade/allocator/internal/config"
	"github.com/memetrade/allocator/internal/execution"
	"github.com/memetrade/allocator/internal/ledger"
	"github.com/memetrade/allocator/internal/mode"
	"github.com/memetrade/allocator/internal/observ"
	"github.com/memetrade/allocator/internal/oracle"
	"github.com/memetrade/allocator/internal/scoring"
	"github.com/memetrade/allocator/internal/store"
	"github.com/memetrade/allocator/internal/strategy"
)

// Store is the external state the engine reads and writes. Satisfied by
// *store.Store; tests supply fakes.
type Store interface {
	StrategyIDs(ctx context.Context) ([]string, error)
	LoadPerformance(ctx context.Context, strategyID string) (store.PerformanceRow, bool, error)
	SavePerformance(ctx context.Context, strategyID string, u store.PerformanceUpdate) error
	SeedPerformance(ctx context.Context, rec strategy.Record) error
	PublishSnapshot(ctx context.Context, snap strategy.Snapshot) error
	RecentSignals(ctx context.Context, strategyID string, n int64) ([]store.Signal, error)
	MarkSignalExecuted(ctx context.Context, strategyID string, sig store.Signal, at time.Time) error
	PushTradeInstruction(ctx context.Context, instr store.TradeInstruction) error
}

// Trader fills trade intents; satisfied by *execution.Simulator.
type Trader interface {
	PlaceOrder(ctx context.Context, strategyID, instrument string, side execution.Side, quantity float64) (execution.Order, error)
}

// Pricer supplies reference prices; satisfied by *oracle.Oracle.
type Pricer interface {
	CurrentPrice(ctx context.Context, instrument string) oracle.Price
}

// Notifier receives mode transitions; satisfied by *alerts.Notifier.
type Notifier interface {
	ModeChange(tr mode.Transition)
}

// Deps are the engine's collaborators.
type Deps struct {
	Store        Store
	Trader       Trader
	Ledger       *ledger.Ledger
	Pricer       Pricer
	PaperSignals execution.SignalSource
	Supervisor   *mode.Supervisor
	Notifier     Notifier // optional
}

// Engine owns the StrategyRecord catalog. Only the allocation path mutates
// records; every other reader sees the last published snapshot.
type Engine struct {
	cfg  config.Root
	deps Deps
	now  func() time.Time

	mu       sync.RWMutex
	records  map[string]*strategy.Record
	snapshot strategy.Snapshot
}

// New builds an engine; call Init before running the loops.
func New(cfg config.Root, deps Deps) *Engine {
	if deps.PaperSignals == nil {
		deps.PaperSignals = execution.NoSignals{}
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		records: make(map[string]*strategy.Record),
	}
}

// SetClock overrides the engine clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) allocatorMode() string {
	if e.cfg.PaperMode() {
		return "PAPER"
	}
	return "LIVE"
}

// Init loads the catalog from the performance store, falling back to the
// default catalog when the store is empty or unreachable. Never fails: a
// degraded start runs on defaults until the store recovers.
func (e *Engine) Init(ctx context.Context) {
	ids, err := e.deps.Store.StrategyIDs(ctx)
	if err != nil {
		observ.LogError("catalog_load_failed", err, nil)
	}
	if len(ids) == 0 {
		e.seedDefaults(ctx)
	} else {
		e.loadCatalog(ctx, ids)
	}

	now := e.now().UTC()
	e.mu.Lock()
	e.snapshot = e.buildSnapshotLocked(now)
	e.mu.Unlock()

	observ.Log("catalog_initialized", map[string]any{
		"strategies":     len(e.records),
		"allocator_mode": e.allocatorMode(),
	})
}

func (e *Engine) loadCatalog(ctx context.Context, ids []string) {
	sort.Strings(ids)
	for _, id := range ids {
		row, ok, err := e.deps.Store.LoadPerformance(ctx, id)
		if err != nil {
			observ.LogError("strategy_load_failed", err, map[string]any{"strategy_id": id})
			continue
		}
		rec := &strategy.Record{ID: id, Mode: strategy.ModePaper}
		if ok {
			rec.AllocationPct = row.AllocationPct
			rec.TradeCount = row.TradeCount
			rec.SharpeRatio = row.SharpeRatio
			rec.TotalPnLUSD = row.TotalPnLUSD
			rec.LastTradeAt = row.LastTradeAt
			if !e.cfg.PaperMode() && strategy.Mode(row.Mode) == strategy.ModeLive {
				rec.Mode = strategy.ModeLive
			}
			e.deps.Ledger.SeedActivity(id, row.TradeCount, row.LastTradeAt)
		}
		e.records[id] = rec
	}
	if len(e.records) == 0 {
		e.seedDefaults(ctx)
	}
}

func (e *Engine) seedDefaults(ctx context.Context) {
	ids := strategy.DefaultIDs()
	equal := math.Round(10000/float64(len(ids))) / 100
	for _, id := range ids {
		rec := &strategy.Record{ID: id, AllocationPct: equal, Mode: strategy.ModePaper}
		e.records[id] = rec
		if err := e.deps.Store.SeedPerformance(ctx, *rec); err != nil {
			observ.LogError("seed_strategy_failed", err, map[string]any{"strategy_id": id})
		}
	}
	observ.Log("default_catalog_seeded", map[string]any{"strategies": len(ids)})
}

// Snapshot returns the last published catalog view.
func (e *Engine) Snapshot() strategy.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// buildSnapshotLocked copies the records into an immutable snapshot.
// Caller holds e.mu.
func (e *Engine) buildSnapshotLocked(now time.Time) strategy.Snapshot {
	snap := strategy.Snapshot{
		TakenAt:       now,
		AllocatorMode: e.allocatorMode(),
		Records:       make([]strategy.Record, 0, len(e.records)),
	}
	for _, id := range strategy.SortedIDs(e.records) {
		snap.Records = append(snap.Records, *e.records[id])
	}
	return snap
}

// AllocationCycle runs one pass of refresh, score, allocate, supervise and
// publish. Per-strategy failures are isolated; the cycle itself only fails
// on a panic caught by the loop wrapper.
func (e *Engine) AllocationCycle(ctx context.Context) error {
	now := e.now().UTC()
	observ.Log("allocation_cycle_start", nil)

	e.refreshMetrics(ctx)

	e.mu.Lock()
	recs := make([]strategy.Record, 0, len(e.records))
	for _, id := range strategy.SortedIDs(e.records) {
		recs = append(recs, *e.records[id])
	}
	scores := scoring.Score(recs, now)
	allocs := allocation.Allocate(scores)
	for id, pct := range allocs {
		e.records[id].AllocationPct = pct
		observ.AllocationPct.WithLabelValues(id).Set(pct)
		observ.SharpeRatio.WithLabelValues(id).Set(e.records[id].SharpeRatio)
	}
	transitions := e.deps.Supervisor.Evaluate(e.records, now)
	snap := e.buildSnapshotLocked(now)
	e.snapshot = snap
	e.mu.Unlock()

	for _, tr := range transitions {
		direction := "promote"
		if tr.To == strategy.ModePaper {
			direction = "demote"
		}
		observ.ModeTransitionsTotal.WithLabelValues(direction).Inc()
		observ.Log("mode_change", map[string]any{
			"strategy_id": tr.StrategyID,
			"old_mode":    string(tr.From),
			"new_mode":    string(tr.To),
		})
		if e.deps.Notifier != nil {
			e.deps.Notifier.ModeChange(tr)
		}
	}

	if err := e.deps.Store.PublishSnapshot(ctx, snap); err != nil {
		// Transient store failure: the in-process snapshot already advanced,
		// downstream readers catch up on the next publish.
		observ.LogError("snapshot_publish_failed", err, nil)
	}

	e.logSummary(snap)
	observ.Log("allocation_cycle_complete", map[string]any{"transitions": len(transitions)})
	return nil
}

// refreshMetrics folds the persisted metrics into the catalog. A failure
// on one strategy never blocks the rest.
func (e *Engine) refreshMetrics(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range strategy.SortedIDs(e.records) {
		row, ok, err := e.deps.Store.LoadPerformance(ctx, id)
		if err != nil {
			observ.LogError("metrics_refresh_failed", err, map[string]any{"strategy_id": id})
			continue
		}
		if !ok {
			continue
		}
		rec := e.records[id]
		rec.TradeCount = row.TradeCount
		rec.SharpeRatio = row.SharpeRatio
		rec.TotalPnLUSD = row.TotalPnLUSD
		if !row.LastTradeAt.IsZero() {
			rec.LastTradeAt = row.LastTradeAt
		}
	}
}

func (e *Engine) logSummary(snap strategy.Snapshot) {
	paper, live := 0, 0
	for _, rec := range snap.Records {
		if rec.Mode == strategy.ModeLive {
			live++
		} else {
			paper++
		}
	}
	top := make([]strategy.Record, len(snap.Records))
	copy(top, snap.Records)
	sort.Slice(top, func(i, j int) bool { return top[i].SharpeRatio > top[j].SharpeRatio })
	if len(top) > 3 {
		top = top[:3]
	}
	leaders := make([]map[string]any, 0, len(top))
	for _, rec := range top {
		leaders = append(leaders, map[string]any{
			"strategy_id":    rec.ID,
			"allocation_pct": rec.AllocationPct,
			"sharpe_ratio":   rec.SharpeRatio,
			"mode":           string(rec.Mode),
		})
	}
	observ.Log("allocation_summary", map[string]any{
		"paper_strategies": paper,
		"live_strategies":  live,
		"top_performers":   leaders,
	})
}

// ExecutionCycle runs one pass of the fast loop: consume due signals for
// live strategies, generate paper intents for the rest, then write the
// refreshed performance metrics back to the store.
func (e *Engine) ExecutionCycle(ctx context.Context) error {
	now := e.now().UTC()
	snap := e.Snapshot()
	if len(snap.Records) == 0 {
		return nil
	}
	price := e.deps.Pricer.CurrentPrice(ctx, e.cfg.Execution.Instrument)

	for _, rec := range snap.Records {
		if rec.Mode == strategy.ModeLive && !e.cfg.PaperMode() {
			e.consumeSignals(ctx, rec, now)
		} else {
			e.paperTrade(ctx, rec, now)
		}
	}

	e.updatePerformance(ctx, snap, price, now)
	return nil
}

// consumeSignals executes a live strategy's due signals and pushes the
// corresponding instruction downstream. A signal is due when it is not
// yet consumed and younger than the staleness window; everything else is
// discarded without execution.
func (e *Engine) consumeSignals(ctx context.Context, rec strategy.Record, now time.Time) {
	sigs, err := e.deps.Store.RecentSignals(ctx, rec.ID, e.cfg.Execution.SignalBatchSize)
	if err != nil {
		observ.LogError("signal_read_failed", err, map[string]any{"strategy_id": rec.ID})
		return
	}
	staleness := time.Duration(e.cfg.Execution.SignalStalenessSecs) * time.Second

	for _, sig := range sigs {
		if sig.Executed || sig.Quantity <= 0 {
			continue
		}
		if sig.Age(now) > staleness {
			continue
		}
		symbol := sig.Symbol
		if symbol == "" {
			symbol = e.cfg.Execution.Instrument
		}
		side := execution.ParseSide(sig.Side)

		_, err := e.deps.Trader.PlaceOrder(ctx, rec.ID, symbol, side, sig.Quantity)
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientPosition) {
				// The intent can never fill; consume it so it is not retried
				// every cycle until it goes stale.
				observ.Log("signal_rejected", map[string]any{
					"strategy_id": rec.ID,
					"symbol":      symbol,
					"side":        string(side),
					"quantity":    sig.Quantity,
					"reason":      "insufficient_position",
				})
				e.markConsumed(ctx, rec.ID, sig, now)
				continue
			}
			observ.LogError("signal_execution_failed", err, map[string]any{"strategy_id": rec.ID})
			continue
		}

		instr := store.TradeInstruction{
			InstructionType:     "execute_trade",
			StrategyID:          rec.ID,
			Symbol:              symbol,
			Side:                string(side),
			Quantity:            sig.Quantity,
			MaxSlippageBps:      e.cfg.Execution.MaxSlippageBps,
			PriorityFeeLamports: e.cfg.Execution.PriorityFeeLamports,
			Timestamp:           now.Format(time.RFC3339),
			Source:              "autonomous_allocator",
		}
		if err := e.deps.Store.PushTradeInstruction(ctx, instr); err != nil {
			observ.LogError("instruction_push_failed", err, map[string]any{"strategy_id": rec.ID})
		} else {
			observ.Log("trade_instruction_sent", map[string]any{
				"strategy_id": rec.ID,
				"symbol":      symbol,
				"side":        string(side),
				"quantity":    sig.Quantity,
			})
		}
		e.markConsumed(ctx, rec.ID, sig, now)
	}
}

func (e *Engine) markConsumed(ctx context.Context, strategyID string, sig store.Signal, now time.Time) {
	if err := e.deps.Store.MarkSignalExecuted(ctx, strategyID, sig, now); err != nil {
		observ.LogError("signal_mark_failed", err, map[string]any{"strategy_id": strategyID})
	}
}

// paperTrade asks the injected signal source for an intent and simulates
// it. Oversells are expected here (a paper strategy may start flat) and
// are skipped quietly.
func (e *Engine) paperTrade(ctx context.Context, rec strategy.Record, now time.Time) {
	side, qty, ok := e.deps.PaperSignals.Next(rec.ID, now)
	if !ok {
		return
	}
	_, err := e.deps.Trader.PlaceOrder(ctx, rec.ID, e.cfg.Execution.Instrument, side, qty)
	if err != nil && !errors.Is(err, ledger.ErrInsufficientPosition) {
		observ.LogError("paper_trade_failed", err, map[string]any{"strategy_id": rec.ID})
	}
}

// updatePerformance marks every strategy's account to the current price
// and writes the refreshed metrics back to the store, closing the
// feedback loop the next allocation cycle reads.
func (e *Engine) updatePerformance(ctx context.Context, snap strategy.Snapshot, price oracle.Price, now time.Time) {
	starting := e.cfg.Execution.StartingBalanceUSD
	for _, rec := range snap.Records {
		totals := e.deps.Ledger.StrategyTotals(rec.ID, price.USD)
		sharpe := 0.0
		if starting > 0 {
			sharpe = math.Max(0, totals.TotalPnLUSD/starting*10)
		}
		lastTrade, _ := e.deps.Ledger.LastTradeAt(rec.ID)
		u := store.PerformanceUpdate{
			TradeCount:       e.deps.Ledger.TradeCount(rec.ID),
			SharpeRatio:      sharpe,
			TotalPnLUSD:      totals.TotalPnLUSD,
			UnrealizedPnLUSD: totals.UnrealizedPnLUSD,
			RealizedPnLUSD:   totals.RealizedPnLUSD,
			CashBalanceUSD:   totals.CashBalanceUSD,
			PositionValueUSD: totals.PositionValueUSD,
			TotalValueUSD:    totals.TotalValueUSD,
			Mode:             string(rec.Mode),
			LastTradeAt:      lastTrade,
			LastUpdated:      now,
		}
		if err := e.deps.Store.SavePerformance(ctx, rec.ID, u); err != nil {
			observ.LogError("performance_save_failed", err, map[string]any{"strategy_id": rec.ID})
		}
	}
}

// RunAllocationLoop runs allocation cycles on the slow cadence until ctx
// is canceled. A failed cycle logs, waits out the cooldown and continues;
// only cancellation ends the loop.
func (e *Engine) RunAllocationLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Loops.AllocationIntervalSecs) * time.Second
	cooldown := time.Duration(e.cfg.Loops.AllocationCooldownSecs) * time.Second
	e.runLoop(ctx, "allocation", interval, cooldown, e.AllocationCycle)
}

// RunExecutionLoop runs execution cycles on the fast cadence until ctx is
// canceled.
func (e *Engine) RunExecutionLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Loops.ExecutionIntervalSecs) * time.Second
	cooldown := time.Duration(e.cfg.Loops.ExecutionCooldownSecs) * time.Second
	e.runLoop(ctx, "execution", interval, cooldown, e.ExecutionCycle)
}

func (e *Engine) runLoop(ctx context.Context, name string, interval, cooldown time.Duration, cycle func(context.Context) error) {
	for {
		err := runCycle(cycle, ctx)
		if err != nil {
			observ.LoopErrorsTotal.WithLabelValues(name).Inc()
			observ.CyclesTotal.WithLabelValues(name, "error").Inc()
			observ.LogError("cycle_failed", err, map[string]any{"loop": name})
			if !sleepCtx(ctx, cooldown) {
				break
			}
			continue
		}
		observ.CyclesTotal.WithLabelValues(name, "ok").Inc()
		if !sleepCtx(ctx, interval) {
			break
		}
	}
	observ.Log("loop_stopped", map[string]any{"loop": name})
}

// runCycle converts a panic inside a cycle into an error so one bad cycle
// never takes the process down.
func runCycle(cycle func(context.Context) error, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return cycle(ctx)
}

// sleepCtx waits d or until ctx is done; false means shut down.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
