package scanner

import (
	"context"
	"sync"
	"testing"

	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	targets []model.Target
	resume  []string
	calls   []string
	result  func(stockID string) (bool, error)
}

func (s *scriptedFetcher) Name() string { return "scripted" }

func (s *scriptedFetcher) Targets(context.Context) ([]model.Target, error) { return s.targets, nil }

func (s *scriptedFetcher) ResumeTables() []string { return s.resume }

func (s *scriptedFetcher) FetchOne(_ context.Context, t model.Target) (bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, model.StockID(t))
	s.mu.Unlock()
	return s.result(model.StockID(t))
}

func TestController_CircuitBreaker(t *testing.T) {
	h := newHarness(t)
	f := &scriptedFetcher{targets: ids(15), result: func(string) (bool, error) { return false, nil }}

	c := NewController(f, h.index, h.sink, Options{})
	sum := c.Scan(context.Background())

	if sum.State != StateCircuitBroken {
		t.Errorf("state: got %s", sum.State)
	}
	if len(f.calls) != 10 || sum.Failed != 10 {
		t.Errorf("expected exactly 10 attempts, got %d (failed=%d)", len(f.calls), sum.Failed)
	}
	if c.State() != StateIdle {
		t.Errorf("controller should return to idle, got %s", c.State())
	}
}

func TestController_SuccessResetsConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	n := 0
	f := &scriptedFetcher{targets: ids(30), result: func(string) (bool, error) {
		n++
		return n%9 == 0, nil
	}}
	sum := NewController(f, h.index, h.sink, Options{}).Scan(context.Background())
	if sum.State != StateCompleted || len(f.calls) != 30 {
		t.Errorf("state=%s calls=%d", sum.State, len(f.calls))
	}
}

func TestController_BudgetPaused(t *testing.T) {
	h := newHarness(t)
	f := &scriptedFetcher{targets: ids(5), result: func(id string) (bool, error) {
		if id == "1103" {
			return false, ratelimit.ErrBudgetExhausted
		}
		return true, nil
	}}
	sum := NewController(f, h.index, h.sink, Options{}).Scan(context.Background())
	if sum.State != StateBudgetPaused {
		t.Errorf("state: got %s", sum.State)
	}
	if sum.Success != 2 || sum.Failed != 0 || len(f.calls) != 3 {
		t.Errorf("success=%d failed=%d calls=%d", sum.Success, sum.Failed, len(f.calls))
	}
}

func TestController_BudgetZeroWithRealFetcher(t *testing.T) {
	h := newHarness(t)
	h.budget.Set(0)
	h.sink.priced = []string{"2330", "2317"}
	sum := NewController(NewChip(h.deps), h.index, h.sink, Options{}).Scan(context.Background())
	if sum.State != StateBudgetPaused {
		t.Errorf("state: got %s", sum.State)
	}
	if h.finmind.total() != 0 {
		t.Errorf("network calls: %d", h.finmind.total())
	}
}

func TestController_Interrupted(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &scriptedFetcher{targets: ids(10), result: func(id string) (bool, error) {
		if id == "1103" {
			cancel()
		}
		return true, nil
	}}
	sum := NewController(f, h.index, h.sink, Options{}).Scan(ctx)
	if sum.State != StateInterrupted {
		t.Errorf("state: got %s", sum.State)
	}
	if len(f.calls) != 3 {
		t.Errorf("targets attempted after interrupt: %d calls", len(f.calls))
	}
}

func TestController_ResumeSkipsWithoutUpstreamCalls(t *testing.T) {
	h := newHarness(t)
	h.sink.priced = []string{"2330", "2317"}
	c := NewChip(h.deps)
	for _, table := range c.ResumeTables() {
		h.index.Record(table, "2330")
	}

	sum := NewController(c, h.index, h.sink, Options{}).Scan(context.Background())
	if sum.Skipped != 1 || sum.Success != 1 {
		t.Errorf("skipped=%d success=%d", sum.Skipped, sum.Success)
	}
	if h.finmind.total() != 6 {
		t.Errorf("expected six calls for 2317 only, got %d", h.finmind.total())
	}
}

func TestController_NoResumeForcesFetch(t *testing.T) {
	h := newHarness(t)
	h.index.Record(model.TableDailyPrice, "2330")
	f := &scriptedFetcher{resume: []string{model.TableDailyPrice}, result: func(string) (bool, error) { return true, nil }}
	sum := NewController(f, h.index, h.sink, Options{Only: []model.Target{model.BareID("2330")}, NoResume: true}).Scan(context.Background())
	if sum.Skipped != 0 || len(f.calls) != 1 {
		t.Errorf("skipped=%d calls=%d", sum.Skipped, len(f.calls))
	}
}

func TestController_VerifyCountsMismatches(t *testing.T) {
	h := newHarness(t)
	h.index.Record(model.TableDailyPrice, "2330")
	f := &scriptedFetcher{targets: ids(0), resume: []string{model.TableDailyPrice}, result: func(string) (bool, error) { return true, nil }}
	sum := NewController(f, h.index, h.sink, Options{Only: []model.Target{model.BareID("2330")}, Verify: true}).Scan(context.Background())
	if sum.Skipped != 1 || sum.Mismatched != 1 {
		t.Errorf("skipped=%d mismatched=%d", sum.Skipped, sum.Mismatched)
	}
}

func TestController_EmptyTargets(t *testing.T) {
	h := newHarness(t)
	f := &scriptedFetcher{result: func(string) (bool, error) { return true, nil }}
	f.targets = []model.Target{}
	sum := NewController(f, h.index, h.sink, Options{}).Scan(context.Background())
	if sum.State != StateIdle || h.sink.closed != 1 {
		t.Errorf("state=%s closed=%d", sum.State, h.sink.closed)
	}
	runs, _ := h.index.Runs(10)
	if len(runs) != 0 {
		t.Errorf("no run should be recorded, got %d", len(runs))
	}
}

func TestController_EmptyOnlyListReleasesStore(t *testing.T) {
	h := newHarness(t)
	f := &scriptedFetcher{targets: ids(3), result: func(string) (bool, error) { return true, nil }}
	sum := NewController(f, h.index, h.sink, Options{Only: []model.Target{}}).Scan(context.Background())
	if sum.Targets != 0 || sum.State != StateIdle {
		t.Errorf("targets=%d state=%s", sum.Targets, sum.State)
	}
	if h.sink.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.sink.closed)
	}
}

func TestController_FinalizeReleasesAndRecords(t *testing.T) {
	h := newHarness(t)
	f := &scriptedFetcher{targets: ids(3), result: func(string) (bool, error) { return true, nil }}
	sum := NewController(f, h.index, h.sink, Options{}).Scan(context.Background())

	if sum.State != StateCompleted || sum.Success != 3 {
		t.Errorf("state=%s success=%d", sum.State, sum.Success)
	}
	if h.sink.closed != 1 {
		t.Errorf("store closed %d times", h.sink.closed)
	}
	runs, err := h.index.Runs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != sum.RunID || runs[0].State != string(StateCompleted) {
		t.Errorf("runs: %+v", runs)
	}
	if sum.Finished.Before(sum.Started) {
		t.Error("finish time not set")
	}
}
