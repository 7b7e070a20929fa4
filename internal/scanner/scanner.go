// Package scanner drives resumable passes over a target list. A Fetcher
// knows how to fill the datasets of one instrument; the Controller visits
// every target, skips finished ones, counts failures and stops early on a
// spent budget, an interrupt or a run of consecutive failures.
package scanner

import (
	"context"
	"time"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
)

// Fetcher fills the datasets it owns for one target. A Fetcher keeps
// per-pass state (failure streaks, disabled datasets) and serves a single
// pass.
type Fetcher interface {
	Name() string
	// Targets computes the pass's target list once, at scan start.
	Targets(ctx context.Context) ([]model.Target, error)
	// ResumeTables are checked before dispatch; a target complete in all
	// of them is skipped.
	ResumeTables() []string
	// FetchOne reports whether at least one dataset newly succeeded. The
	// only errors returned are budget exhaustion and cancellation.
	FetchOne(ctx context.Context, target model.Target) (bool, error)
}

// Index is the completion index as used by scanners.
type Index interface {
	Exists(table, stockID string) bool
	Record(table, stockID string) error
	AllComplete(tables []string, stockID string) bool
	RecordFailure(table, stockID, message string) error
	HasFailure(table, stockID string) bool
	RecordRun(r index.Run) error
	Close() error
}

// FinMindClient fetches one dataset for one instrument.
type FinMindClient interface {
	Dataset(ctx context.Context, dataset, stockID, startDate string) (*model.Table, error)
}

// YahooClient downloads bars and dividends by symbol.
type YahooClient interface {
	DailyBars(ctx context.Context, symbol, period string) ([]model.OHLCV, error)
	Dividends(ctx context.Context, symbol string) ([]model.Dividend, error)
}

// State is the controller's lifecycle position.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateBudgetPaused  State = "budget_paused"
	StateInterrupted   State = "interrupted"
	StateCircuitBroken State = "circuit_broken"
)

// Summary is the tally of one pass.
type Summary struct {
	RunID      string
	Scanner    string
	State      State
	Targets    int
	Success    int
	Skipped    int
	Failed     int
	Mismatched int
	Started    time.Time
	Finished   time.Time
}

// FallbackStocks are scanned when the instrument catalog is unreadable.
var FallbackStocks = []string{"2330", "2317", "2454", "2603", "0050"}

func fallbackTargets() []model.Target {
	out := make([]model.Target, len(FallbackStocks))
	for i, id := range FallbackStocks {
		out[i] = model.BareID(id)
	}
	return out
}
