package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
)

type fakeCatalog struct {
	priced      []string
	instruments []model.Instrument
	lookups     int
}

func (c *fakeCatalog) Instruments(context.Context) ([]model.Instrument, error) {
	c.lookups++
	return c.instruments, nil
}

func (c *fakeCatalog) PricedInstruments(context.Context) ([]string, error) { return c.priced, nil }

func newTestServer(t *testing.T) (*httptest.Server, *index.Index, *fakeCatalog) {
	t.Helper()
	ix := index.New(filepath.Join(t.TempDir(), "scan_index.db"), nil, index.Options{})
	t.Cleanup(func() { ix.Close() })
	cat := &fakeCatalog{
		priced:      []string{"2317", "2330", "2454"},
		instruments: []model.Instrument{{Code: "2330", Name: "台積電"}, {Code: "2317", Name: "鴻海"}},
	}
	srv := httptest.NewServer(New(ix, cat).Router())
	t.Cleanup(srv.Close)
	return srv, ix, cat
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestStats(t *testing.T) {
	srv, ix, _ := newTestServer(t)
	ix.Record(model.TableDailyPrice, "2330")
	ix.Record(model.TableDailyPrice, "2317")
	ix.RecordFailure(model.TableChipMargin, "2454", "boom")

	var got struct {
		Targets int         `json:"targets"`
		Tables  []tableStat `json:"tables"`
	}
	getJSON(t, srv.URL+"/api/stats", &got)

	if got.Targets != 3 {
		t.Errorf("targets: got %d, want 3", got.Targets)
	}
	byTable := map[string]tableStat{}
	for _, s := range got.Tables {
		byTable[s.Table] = s
	}
	if s := byTable[model.TableDailyPrice]; s.Completed != 2 || s.Remaining != 1 {
		t.Errorf("daily_price: %+v", s)
	}
	if s := byTable[model.TableChipMargin]; s.Failures != 1 || s.Remaining != 3 {
		t.Errorf("chip_margin: %+v", s)
	}
}

func TestStocks_MatrixAndNameCache(t *testing.T) {
	srv, ix, cat := newTestServer(t)
	ix.Record(model.TableDailyPrice, "2330")

	var got struct {
		Stocks []stockRow `json:"stocks"`
	}
	getJSON(t, srv.URL+"/api/stocks", &got)
	getJSON(t, srv.URL+"/api/stocks", &got)

	if len(got.Stocks) != 3 || got.Stocks[0].StockID != "2317" {
		t.Fatalf("stocks: %+v", got.Stocks)
	}
	tsmc := got.Stocks[1]
	if tsmc.Name != "台積電" || !tsmc.Tables[model.TableDailyPrice] || tsmc.Complete != 1 {
		t.Errorf("2330 row: %+v", tsmc)
	}
	if cat.lookups != 1 {
		t.Errorf("instrument lookups: got %d, want 1 (cached)", cat.lookups)
	}
}

func TestNameCacheExpires(t *testing.T) {
	cat := &fakeCatalog{}
	s := New(nil, cat)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.stockNames(context.Background())
	now = now.Add(nameTTL + time.Second)
	s.stockNames(context.Background())

	if cat.lookups != 2 {
		t.Errorf("lookups: got %d, want 2", cat.lookups)
	}
}

func TestRunsAndFailures(t *testing.T) {
	srv, ix, _ := newTestServer(t)
	start := time.Unix(1717400000, 0)
	ix.RecordRun(index.Run{ID: "a", Scanner: "price", State: "completed", StartedAt: start, FinishedAt: start.Add(time.Minute)})
	ix.RecordRun(index.Run{ID: "b", Scanner: "chip", State: "budget_paused", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour)})
	ix.RecordFailure(model.TableStockPER, "2330", "upstream 500")

	var runs []index.Run
	getJSON(t, srv.URL+"/api/runs?limit=1", &runs)
	if len(runs) != 1 || runs[0].ID != "b" {
		t.Errorf("runs: %+v", runs)
	}

	var failures []index.Failure
	getJSON(t, srv.URL+"/api/failures?table="+model.TableChipMargin, &failures)
	if len(failures) != 0 {
		t.Errorf("filtered failures: %+v", failures)
	}
	getJSON(t, srv.URL+"/api/failures", &failures)
	if len(failures) != 1 || failures[0].Message != "upstream 500" {
		t.Errorf("failures: %+v", failures)
	}
}

func TestHealthAndIndexPage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var health map[string]string
	getJSON(t, srv.URL+"/health", &health)
	if health["status"] != "ok" {
		t.Errorf("health: %v", health)
	}

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("content type: %s", resp.Header.Get("Content-Type"))
	}
}
