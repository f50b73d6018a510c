package strategy

import (
	"sort"
	"time"
)

// Mode says whether a strategy's signals may generate real-capital trade
// instructions or are only simulated.
type Mode string

const (
	ModePaper Mode = "Paper"
	ModeLive  Mode = "Live"
)

// Record tracks one registered strategy's capital share and performance.
// The catalog of records is fixed for the life of the process; records are
// mutated every allocation cycle and never deleted.
type Record struct {
	ID            string    `json:"strategy_id"`
	AllocationPct float64   `json:"allocation_pct"`
	TradeCount    int       `json:"trade_count"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	TotalPnLUSD   float64   `json:"total_pnl"`
	Mode          Mode      `json:"mode"`
	LastTradeAt   time.Time `json:"last_trade_time,omitzero"` // zero = never traded
}

// Snapshot is the published point-in-time view of the whole catalog.
// It is immutable once taken; the next cycle supersedes it.
type Snapshot struct {
	TakenAt       time.Time
	AllocatorMode string // "PAPER" or "LIVE"
	Records       []Record
}

// Record returns the snapshot entry for a strategy id.
func (s Snapshot) Record(id string) (Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// DefaultIDs is the seed catalog used when the performance store is empty
// or unreachable at startup.
func DefaultIDs() []string {
	return []string{
		"momentum_5m", "mean_revert_1h", "social_buzz", "bridge_inflow",
		"korean_time_burst", "liquidity_migration", "rug_pull_sniffer",
		"airdrop_rotation", "dev_wallet_drain", "perp_basis_arb",
	}
}

// SortedIDs returns the ids of a record map in stable order, so cycles
// evaluate strategies deterministically.
func SortedIDs(records map[string]*Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
