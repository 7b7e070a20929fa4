package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
	"StockScanner/internal/scanner"
	"StockScanner/internal/upstream"
)

type stubFetcher struct {
	name    string
	budget  *ratelimit.Budget
	fetchFn func(ctx context.Context) (bool, error)
	seen    *[]int
}

func (f *stubFetcher) Name() string           { return f.name }
func (f *stubFetcher) ResumeTables() []string { return []string{f.name} }

func (f *stubFetcher) Targets(context.Context) ([]model.Target, error) {
	return []model.Target{model.BareID("2330")}, nil
}

func (f *stubFetcher) FetchOne(ctx context.Context, _ model.Target) (bool, error) {
	if f.seen != nil {
		n, limited := f.budget.Remaining()
		if !limited {
			n = -1
		}
		*f.seen = append(*f.seen, n)
	}
	if f.fetchFn != nil {
		return f.fetchFn(ctx)
	}
	return true, nil
}

type nopStore struct{}

func (nopStore) ExistsAny(context.Context, string, string) (bool, error) { return false, nil }
func (nopStore) Close() error                                            { return nil }

type fixture struct {
	mu     sync.Mutex
	dir    string
	budget *ratelimit.Budget
	built  []string
	fns    map[string]func(ctx context.Context) (bool, error)
	seen   []int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{dir: t.TempDir(), budget: ratelimit.NewBudget(), fns: map[string]func(context.Context) (bool, error){}}
}

func (f *fixture) build(name string) (*scanner.Controller, error) {
	f.mu.Lock()
	f.built = append(f.built, name)
	f.mu.Unlock()
	ix := index.New(filepath.Join(f.dir, "scan_index.db"), nil, index.Options{})
	fetcher := &stubFetcher{name: name, budget: f.budget, fetchFn: f.fns[name], seen: &f.seen}
	return scanner.NewController(fetcher, ix, nopStore{}, scanner.Options{NoResume: true}), nil
}

type fakeUsage struct {
	u   upstream.Usage
	err error
}

func (f fakeUsage) Usage(context.Context) (upstream.Usage, error) { return f.u, f.err }

type captureNotifier struct{ msgs []string }

func (c *captureNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	c.msgs = append(c.msgs, text)
	return nil
}

func TestRunCycle_BudgetPauseSkipsFinMindScanners(t *testing.T) {
	f := newFixture(t)
	f.fns["fundamental"] = func(context.Context) (bool, error) { return false, ratelimit.ErrBudgetExhausted }
	n := &captureNotifier{}
	s := NewScheduler(context.Background(), Options{Spec: "@every 1h"}, f.build, f.budget, fakeUsage{u: upstream.Usage{Used: 580, Limit: 600}}, n)

	sums := s.RunCycle(context.Background())

	if want := []string{"price", "fundamental"}; len(f.built) != len(want) || f.built[0] != want[0] || f.built[1] != want[1] {
		t.Fatalf("built: got %v, want %v", f.built, want)
	}
	if len(sums) != 2 || sums[1].State != scanner.StateBudgetPaused {
		t.Fatalf("summaries: %+v", sums)
	}
	if f.seen[0] != 20 {
		t.Errorf("budget during cycle: got %d, want 20", f.seen[0])
	}
	if _, limited := f.budget.Remaining(); limited {
		t.Error("budget not reset after cycle")
	}
	if len(n.msgs) != 1 {
		t.Errorf("reports: got %d, want 1", len(n.msgs))
	}
}

func TestRunCycle_FixedBudgetOverridesUsage(t *testing.T) {
	f := newFixture(t)
	fixed := 7
	s := NewScheduler(context.Background(), Options{Scanners: []string{"chip"}, Budget: &fixed}, f.build, f.budget,
		fakeUsage{err: errors.New("unused")}, nil)

	s.RunCycle(context.Background())

	if len(f.seen) != 1 || f.seen[0] != 7 {
		t.Errorf("budget seen: %v", f.seen)
	}
}

func TestRunCycle_UsageErrorRunsUnlimited(t *testing.T) {
	f := newFixture(t)
	f.budget.Set(3)
	s := NewScheduler(context.Background(), Options{Scanners: []string{"valuation"}}, f.build, f.budget,
		fakeUsage{err: errors.New("boom")}, nil)

	s.RunCycle(context.Background())

	if len(f.seen) != 1 || f.seen[0] != -1 {
		t.Errorf("budget seen: %v", f.seen)
	}
}

func TestRunCycle_InterruptStopsCycle(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fns["price"] = func(context.Context) (bool, error) {
		cancel()
		return false, context.Canceled
	}
	s := NewScheduler(ctx, Options{}, f.build, f.budget, nil, nil)

	sums := s.RunCycle(ctx)

	if len(sums) != 1 || sums[0].State != scanner.StateInterrupted {
		t.Fatalf("summaries: %+v", sums)
	}
	if len(f.built) != 1 {
		t.Errorf("built after interrupt: %v", f.built)
	}
}

func TestRegister_RejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(context.Background(), Options{Spec: "not a cron"}, f.build, f.budget, nil, nil)
	if err := s.Register(); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

func TestRunNow_UsesRegisteredCycle(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(context.Background(), Options{Spec: "0 0 * * * *", Scanners: []string{"price"}}, f.build, f.budget, nil, nil)

	s.RunNow()
	if len(f.built) != 0 {
		t.Fatalf("ran before registration: %v", f.built)
	}
	if err := s.Register(); err != nil {
		t.Fatal(err)
	}
	s.RunNow()
	if len(f.built) != 1 {
		t.Errorf("built: %v", f.built)
	}
}
