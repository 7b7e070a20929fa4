package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
	"StockScanner/internal/upstream"
)

type memSink struct {
	mu       sync.Mutex
	tables   map[string][]*model.Table
	closed   int
	priced   []string
	catalog  []model.Instrument
	appendFn func(table string) error
}

func newMemSink() *memSink { return &memSink{tables: map[string][]*model.Table{}} }

func (m *memSink) Append(_ context.Context, table string, t *model.Table) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFn != nil {
		if err := m.appendFn(table); err != nil {
			return 0, err
		}
	}
	m.tables[table] = append(m.tables[table], t)
	return t.Len(), nil
}

func (m *memSink) rows(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tables[table] {
		n += t.Len()
	}
	return n
}

func (m *memSink) ExistsAny(_ context.Context, table, _ string) (bool, error) {
	return m.rows(table) > 0, nil
}

func (m *memSink) Instruments(context.Context) ([]model.Instrument, error) { return m.catalog, nil }

func (m *memSink) PricedInstruments(context.Context) ([]string, error) { return m.priced, nil }

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

type fakeFinMind struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(dataset, stockID string) (*model.Table, error)
}

func (f *fakeFinMind) Dataset(_ context.Context, dataset, stockID, _ string) (*model.Table, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[dataset]++
	f.mu.Unlock()
	if f.respond == nil {
		return rowsFor(stockID), nil
	}
	return f.respond(dataset, stockID)
}

func (f *fakeFinMind) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFinMind) count(dataset string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[dataset]
}

func rowsFor(stockID string) *model.Table {
	t := model.NewTable("date", "stock_id", "value")
	t.Append("2024-01-02", stockID, int64(1))
	return t
}

type fakeYahoo struct {
	mu        sync.Mutex
	barCalls  int
	divCalls  int
	symbols   []string
	bars      []model.OHLCV
	dividends []model.Dividend
}

func (y *fakeYahoo) DailyBars(_ context.Context, symbol, _ string) ([]model.OHLCV, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.barCalls++
	y.symbols = append(y.symbols, symbol)
	return y.bars, nil
}

func (y *fakeYahoo) Dividends(_ context.Context, _ string) ([]model.Dividend, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.divCalls++
	return y.dividends, nil
}

type waitCounter struct {
	mu sync.Mutex
	n  int
}

func (w *waitCounter) sleep(ctx context.Context, _ time.Duration) error {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waitCounter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

type harness struct {
	index   *index.Index
	sink    *memSink
	finmind *fakeFinMind
	yahoo   *fakeYahoo
	budget  *ratelimit.Budget
	waits   *waitCounter
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		index:   index.New(filepath.Join(t.TempDir(), "scan_index.db"), nil, index.Options{}),
		sink:    newMemSink(),
		finmind: &fakeFinMind{},
		yahoo:   &fakeYahoo{},
		budget:  ratelimit.NewBudget(),
		waits:   &waitCounter{},
	}
	t.Cleanup(func() { h.index.Close() })
	h.deps = Deps{
		Index:          h.index,
		Sink:           h.sink,
		Catalog:        h.sink,
		FinMind:        h.finmind,
		Yahoo:          h.yahoo,
		FinMindLimiter: ratelimit.New(ratelimit.FinMind, true, h.budget, ratelimit.WithSleeper(h.waits.sleep)),
		YahooLimiter:   ratelimit.New(ratelimit.Yahoo, false, nil, ratelimit.WithSleeper(h.waits.sleep)),
	}
	return h
}

func tenBars() []model.OHLCV {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("CST", 8*3600))
	bars := make([]model.OHLCV, 10)
	for i := range bars {
		p := 700 + float64(i)
		bars[i] = model.OHLCV{Time: start.AddDate(0, 0, i), Open: p, High: p + 5, Low: p - 5, Close: p + 1, Volume: 2e7}
	}
	return bars
}

func ids(n int) []model.Target {
	out := make([]model.Target, n)
	for i := range out {
		out[i] = model.BareID(fmt.Sprintf("%04d", 1101+i))
	}
	return out
}

var rateLimited = &upstream.HTTPError{Provider: "finmind", Status: 429, Body: "Too Many Requests"}
