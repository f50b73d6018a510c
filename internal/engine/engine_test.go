package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/memetrade/allocator/internal/config"
	"github.com/memetrade/allocator/internal/execution"
	"github.com/memetrade/allocator/internal/ledger"
	"github.com/memetrade/allocator/internal/mode"
	"github.com/memetrade/allocator/internal/oracle"
	"github.com/memetrade/allocator/internal/store"
	"github.com/memetrade/allocator/internal/strategy"
)

type fakeStore struct {
	mu           sync.Mutex
	rows         map[string]store.PerformanceRow
	idsErr       error
	loadErr      map[string]error
	seeded       []strategy.Record
	saved        map[string]store.PerformanceUpdate
	published    []strategy.Snapshot
	signals      map[string][]store.Signal
	marked       []store.Signal
	instructions []store.TradeInstruction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    map[string]store.PerformanceRow{},
		loadErr: map[string]error{},
		saved:   map[string]store.PerformanceUpdate{},
		signals: map[string][]store.Signal{},
	}
}

func (f *fakeStore) StrategyIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	ids := make([]string, 0, len(f.rows))
	for id := range f.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) LoadPerformance(_ context.Context, id string) (store.PerformanceRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadErr[id]; err != nil {
		return store.PerformanceRow{}, false, err
	}
	row, ok := f.rows[id]
	return row, ok, nil
}

func (f *fakeStore) SavePerformance(_ context.Context, id string, u store.PerformanceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = u
	return nil
}

func (f *fakeStore) SeedPerformance(_ context.Context, rec strategy.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded = append(f.seeded, rec)
	return nil
}

func (f *fakeStore) PublishSnapshot(_ context.Context, snap strategy.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, snap)
	return nil
}

func (f *fakeStore) RecentSignals(_ context.Context, id string, n int64) ([]store.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sigs := f.signals[id]
	if int64(len(sigs)) > n {
		sigs = sigs[:n]
	}
	return sigs, nil
}

func (f *fakeStore) MarkSignalExecuted(_ context.Context, _ string, sig store.Signal, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, sig)
	return nil
}

func (f *fakeStore) PushTradeInstruction(_ context.Context, instr store.TradeInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instr)
	return nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []mode.Transition
}

func (n *recordingNotifier) ModeChange(tr mode.Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, tr)
}

// scriptedSignals emits one fixed intent per strategy, then goes quiet.
type scriptedSignals struct {
	mu      sync.Mutex
	side    execution.Side
	qty     float64
	emitted map[string]bool
}

func (s *scriptedSignals) Next(strategyID string, _ time.Time) (execution.Side, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitted == nil {
		s.emitted = map[string]bool{}
	}
	if s.emitted[strategyID] {
		return execution.SideBuy, 0, false
	}
	s.emitted[strategyID] = true
	return s.side, s.qty, true
}

func testConfig(mode string) config.Root {
	return config.Root{
		TradingMode: mode,
		Loops: config.Loops{
			AllocationIntervalSecs: 300,
			ExecutionIntervalSecs:  2,
			AllocationCooldownSecs: 30,
			ExecutionCooldownSecs:  5,
		},
		Promotion: config.Promotion{MinTradeCount: 100, PromoteSharpe: 1.25, DemoteSharpe: 0.8},
		Execution: config.Execution{
			Instrument:          "SOL",
			StartingBalanceUSD:  100000,
			FallbackPriceUSD:    240,
			MaxSlippageBps:      50,
			PriorityFeeLamports: 100000,
			SignalStalenessSecs: 300,
			SignalBatchSize:     5,
		},
	}
}

func newTestEngine(t *testing.T, cfg config.Root, fs *fakeStore) (*Engine, *ledger.Ledger, *recordingNotifier) {
	t.Helper()
	led := ledger.New(cfg.Execution.StartingBalanceUSD)
	pricer := oracle.New(oracle.StaticSource{PriceUSD: 100}, oracle.Config{
		FallbackPriceUSD: cfg.Execution.FallbackPriceUSD,
		FetchesPerSec:    1000,
	})
	sim := execution.NewSimulator(execution.FeeSchedule{}, pricer,
		execution.FixedMarketModel{Base: 0, Vol: 0, Tod: 1}, led, nil)
	notifier := &recordingNotifier{}
	eng := New(cfg, Deps{
		Store:      fs,
		Trader:     sim,
		Ledger:     led,
		Pricer:     pricer,
		Supervisor: mode.NewSupervisor(mode.DefaultThresholds(), cfg.PaperMode()),
		Notifier:   notifier,
	})
	return eng, led, notifier
}

func TestInit_SeedsDefaultCatalogWhenStoreEmpty(t *testing.T) {
	fs := newFakeStore()
	eng, _, _ := newTestEngine(t, testConfig("paper"), fs)
	eng.Init(context.Background())

	snap := eng.Snapshot()
	if len(snap.Records) != len(strategy.DefaultIDs()) {
		t.Fatalf("catalog size = %d, want %d", len(snap.Records), len(strategy.DefaultIDs()))
	}
	for _, rec := range snap.Records {
		if rec.AllocationPct != 10.0 {
			t.Fatalf("seeded allocation for %s = %v, want 10.0", rec.ID, rec.AllocationPct)
		}
		if rec.Mode != strategy.ModePaper {
			t.Fatalf("seeded mode for %s = %s, want Paper", rec.ID, rec.Mode)
		}
	}
	if len(fs.seeded) != len(strategy.DefaultIDs()) {
		t.Fatalf("seeded rows = %d, want %d", len(fs.seeded), len(strategy.DefaultIDs()))
	}
}

func TestInit_SeedsDefaultsWhenStoreUnreachable(t *testing.T) {
	fs := newFakeStore()
	fs.idsErr = errors.New("connection refused")
	eng, _, _ := newTestEngine(t, testConfig("paper"), fs)
	eng.Init(context.Background())

	if len(eng.Snapshot().Records) != len(strategy.DefaultIDs()) {
		t.Fatal("unreachable store must fall back to the default catalog")
	}
}

func TestAllocationCycle_PublishesNormalizedSnapshot(t *testing.T) {
	fs := newFakeStore()
	fs.rows["alpha"] = store.PerformanceRow{SharpeRatio: 2.0, Mode: "Paper"}
	fs.rows["beta"] = store.PerformanceRow{TotalPnLUSD: 3000, Mode: "Paper"}
	fs.rows["gamma"] = store.PerformanceRow{Mode: "Paper"}

	eng, _, _ := newTestEngine(t, testConfig("paper"), fs)
	eng.Init(context.Background())
	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(fs.published) != 1 {
		t.Fatalf("published snapshots = %d, want 1", len(fs.published))
	}
	snap := fs.published[0]
	sum := 0.0
	for _, rec := range snap.Records {
		if rec.AllocationPct < 0 {
			t.Fatalf("allocation for %s = %v, want >= 0", rec.ID, rec.AllocationPct)
		}
		sum += rec.AllocationPct
	}
	if math.Abs(sum-100) > 0.01*float64(len(snap.Records)) {
		t.Fatalf("allocation sum = %v, want 100 within rounding residue", sum)
	}
	if snap.AllocatorMode != "PAPER" {
		t.Fatalf("allocator mode = %s, want PAPER", snap.AllocatorMode)
	}

	// alpha (sharpe 20) outranks beta (pnl 3) outranks gamma (floor 1).
	alpha, _ := snap.Record("alpha")
	beta, _ := snap.Record("beta")
	gamma, _ := snap.Record("gamma")
	if !(alpha.AllocationPct > beta.AllocationPct && beta.AllocationPct > gamma.AllocationPct) {
		t.Fatalf("ordering broken: alpha=%v beta=%v gamma=%v",
			alpha.AllocationPct, beta.AllocationPct, gamma.AllocationPct)
	}
}

func TestAllocationCycle_PromotesOncePerQualification(t *testing.T) {
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 150, SharpeRatio: 1.30, Mode: "Paper"}

	eng, _, notifier := newTestEngine(t, testConfig("live"), fs)
	eng.Init(context.Background())

	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	rec, _ := eng.Snapshot().Record("hot")
	if rec.Mode != strategy.ModeLive {
		t.Fatalf("mode = %s, want Live", rec.Mode)
	}
	if len(notifier.transitions) != 1 {
		t.Fatalf("notified transitions = %d, want 1", len(notifier.transitions))
	}

	// Second qualifying cycle: already live, no duplicate event.
	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(notifier.transitions) != 1 {
		t.Fatalf("transitions after second cycle = %d, want 1", len(notifier.transitions))
	}
}

func TestAllocationCycle_ForcedSimulationBlocksPromotion(t *testing.T) {
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 500, SharpeRatio: 3.0, Mode: "Paper"}

	eng, _, notifier := newTestEngine(t, testConfig("paper"), fs)
	eng.Init(context.Background())
	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	rec, _ := eng.Snapshot().Record("hot")
	if rec.Mode != strategy.ModePaper {
		t.Fatalf("mode = %s, want Paper under forced simulation", rec.Mode)
	}
	if len(notifier.transitions) != 0 {
		t.Fatalf("transitions = %d, want 0", len(notifier.transitions))
	}
}

func TestAllocationCycle_DemotesWeakLiveStrategy(t *testing.T) {
	fs := newFakeStore()
	fs.rows["fading"] = store.PerformanceRow{TradeCount: 200, SharpeRatio: 0.75, Mode: "Live"}

	eng, _, _ := newTestEngine(t, testConfig("live"), fs)
	eng.Init(context.Background())
	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	rec, _ := eng.Snapshot().Record("fading")
	if rec.Mode != strategy.ModePaper {
		t.Fatalf("mode = %s, want Paper after demotion", rec.Mode)
	}
}

func TestAllocationCycle_IsolatesPerStrategyFailures(t *testing.T) {
	fs := newFakeStore()
	fs.rows["ok"] = store.PerformanceRow{SharpeRatio: 1.0, Mode: "Paper"}
	fs.rows["broken"] = store.PerformanceRow{Mode: "Paper"}

	eng, _, _ := newTestEngine(t, testConfig("paper"), fs)
	eng.Init(context.Background())

	fs.mu.Lock()
	fs.loadErr["broken"] = errors.New("hash corrupted")
	fs.rows["ok"] = store.PerformanceRow{SharpeRatio: 2.5, Mode: "Paper"}
	fs.mu.Unlock()

	if err := eng.AllocationCycle(context.Background()); err != nil {
		t.Fatalf("cycle must not fail on one strategy: %v", err)
	}
	rec, ok := eng.Snapshot().Record("ok")
	if !ok || rec.SharpeRatio != 2.5 {
		t.Fatalf("healthy strategy not refreshed: %+v", rec)
	}
	if _, ok := eng.Snapshot().Record("broken"); !ok {
		t.Fatal("failing strategy must stay in the catalog")
	}
}

func TestExecutionCycle_ConsumesDueSignals(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 150, SharpeRatio: 1.5, Mode: "Live"}
	fs.signals["hot"] = []store.Signal{
		{Index: 0, Symbol: "SOL", Side: "BUY", Quantity: 2, Timestamp: now.Add(-time.Minute).Format(time.RFC3339)},
		{Index: 1, Symbol: "SOL", Side: "BUY", Quantity: 1, Timestamp: now.Add(-10 * time.Minute).Format(time.RFC3339)},
		{Index: 2, Symbol: "SOL", Side: "BUY", Quantity: 1, Timestamp: now.Add(-time.Minute).Format(time.RFC3339), Executed: true},
	}

	eng, led, _ := newTestEngine(t, testConfig("live"), fs)
	eng.SetClock(func() time.Time { return now })
	eng.Init(context.Background())

	if err := eng.ExecutionCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// Only the fresh, unconsumed signal executes: stale and already
	// consumed ones are discarded without execution.
	if got := led.Quantity("hot", "SOL"); math.Abs(got-2) > 1e-9 {
		t.Fatalf("filled quantity = %v, want 2", got)
	}
	if len(fs.instructions) != 1 {
		t.Fatalf("instructions pushed = %d, want 1", len(fs.instructions))
	}
	instr := fs.instructions[0]
	if instr.InstructionType != "execute_trade" || instr.StrategyID != "hot" || instr.Quantity != 2 {
		t.Fatalf("instruction = %+v", instr)
	}
	if len(fs.marked) != 1 || fs.marked[0].Index != 0 {
		t.Fatalf("marked signals = %+v, want index 0 only", fs.marked)
	}
}

func TestExecutionCycle_ForcedSimulationSuppressesInstructions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 150, SharpeRatio: 1.5, Mode: "Live"}
	fs.signals["hot"] = []store.Signal{
		{Index: 0, Symbol: "SOL", Side: "BUY", Quantity: 2, Timestamp: now.Add(-time.Minute).Format(time.RFC3339)},
	}

	eng, led, _ := newTestEngine(t, testConfig("paper"), fs)
	eng.SetClock(func() time.Time { return now })
	eng.deps.PaperSignals = &scriptedSignals{side: execution.SideBuy, qty: 0.5}
	eng.Init(context.Background())

	if err := eng.ExecutionCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(fs.instructions) != 0 {
		t.Fatalf("instructions pushed = %d, want 0 under forced simulation", len(fs.instructions))
	}
	// The strategy still trades, on paper, via the injected source.
	if got := led.Quantity("hot", "SOL"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("paper fill quantity = %v, want 0.5", got)
	}
}

func TestExecutionCycle_RejectedSellConsumesSignal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 150, SharpeRatio: 1.5, Mode: "Live"}
	fs.signals["hot"] = []store.Signal{
		{Index: 0, Symbol: "SOL", Side: "SELL", Quantity: 3, Timestamp: now.Add(-time.Minute).Format(time.RFC3339)},
	}

	eng, led, _ := newTestEngine(t, testConfig("live"), fs)
	eng.SetClock(func() time.Time { return now })
	eng.Init(context.Background())

	if err := eng.ExecutionCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := led.Quantity("hot", "SOL"); got != 0 {
		t.Fatalf("ledger mutated by rejected sell: %v", got)
	}
	if len(fs.instructions) != 0 {
		t.Fatal("rejected sell must not push an instruction")
	}
	if len(fs.marked) != 1 {
		t.Fatal("unfillable signal must be consumed so it is not retried forever")
	}
}

func TestExecutionCycle_WritesPerformanceFeedback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := newFakeStore()
	fs.rows["hot"] = store.PerformanceRow{TradeCount: 10, SharpeRatio: 1.0, Mode: "Live"}
	fs.signals["hot"] = []store.Signal{
		{Index: 0, Symbol: "SOL", Side: "BUY", Quantity: 2, Timestamp: now.Add(-time.Minute).Format(time.RFC3339)},
	}

	eng, _, _ := newTestEngine(t, testConfig("live"), fs)
	eng.SetClock(func() time.Time { return now })
	eng.Init(context.Background())

	if err := eng.ExecutionCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	u, ok := fs.saved["hot"]
	if !ok {
		t.Fatal("performance update not written")
	}
	// 10 seeded trades plus the fill this cycle.
	if u.TradeCount != 11 {
		t.Fatalf("trade count = %d, want 11", u.TradeCount)
	}
	if u.Mode != "Live" {
		t.Fatalf("mode = %s, want Live", u.Mode)
	}
	if u.CashBalanceUSD >= 100000 {
		t.Fatalf("cash = %v, want debited below 100000", u.CashBalanceUSD)
	}
	if u.LastUpdated != now {
		t.Fatalf("last updated = %v, want %v", u.LastUpdated, now)
	}
}

func TestRunCycle_RecoversPanics(t *testing.T) {
	err := runCycle(func(context.Context) error {
		panic(fmt.Errorf("boom"))
	}, context.Background())
	if err == nil {
		t.Fatal("panic must surface as an error")
	}
}

func TestRunLoop_StopsOnCancel(t *testing.T) {
	fs := newFakeStore()
	cfg := testConfig("paper")
	cfg.Loops.ExecutionIntervalSecs = 1
	eng, _, _ := newTestEngine(t, cfg, fs)
	eng.Init(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.RunExecutionLoop(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not drain after cancellation")
	}
}
