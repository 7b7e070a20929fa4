package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
	"StockScanner/internal/upstream"
)

// FocusMetrics are the statement line items kept in financial_reports.
var FocusMetrics = []string{
	"Revenue",
	"GrossProfit",
	"OperatingIncome",
	"NetIncome",
	"EarningsPerShare",
	"TotalAssets",
	"TotalLiabilities",
	"TotalEquity",
	"CashFlowsFromOperatingActivities",
}

// DefaultStartDate is where FinMind history begins.
const DefaultStartDate = "2020-01-01"

// Fundamental fills financial_reports from FinMind and dividend_history
// from Yahoo.
type Fundamental struct {
	base
}

// NewFundamental creates the statement and dividend fetcher.
func NewFundamental(d Deps) *Fundamental {
	start := d.StartDate
	if start == "" {
		start = DefaultStartDate
	}
	f := &Fundamental{base: base{
		name:    "fundamental",
		resume:  []string{model.TableFinancialReports, model.TableDividendHistory},
		runner:  newRunner("fundamental", d.Index, d.Sink, d.FailLimit),
		catalog: d.Catalog,
	}}
	f.datasets = []dataset{
		{
			table:   model.TableFinancialReports,
			label:   "financial statements",
			limiter: d.FinMindLimiter,
			fetch:   financialStatements(d.FinMind, d.FinMindLimiter, start),
		},
		{
			table:   model.TableDividendHistory,
			label:   "dividends",
			limiter: d.YahooLimiter,
			fetch:   dividends(d.Yahoo, d.YahooLimiter),
		},
	}
	return f
}

// Targets lists instruments that have daily prices.
func (f *Fundamental) Targets(ctx context.Context) ([]model.Target, error) {
	return f.pricedTargets(ctx)
}

// financialStatements merges the income statement and the balance sheet,
// keeping only the focus metrics. Either call coming back without a result
// makes the whole dataset a no-result. The pair is only started when the
// budget covers both calls.
func financialStatements(c FinMindClient, l *ratelimit.Limiter, start string) fetchFunc {
	pair := []string{upstream.DatasetFinancialStatements, upstream.DatasetBalanceSheet}
	return func(ctx context.Context, target model.Target) (*model.Table, bool, error) {
		if err := l.Afford(len(pair)); err != nil {
			return nil, false, err
		}
		stockID := model.StockID(target)
		out := model.NewTable("date", "stock_id", "type", "value")

		for i, name := range pair {
			if i > 0 {
				if err := l.Wait(ctx); err != nil {
					return nil, false, err
				}
			}
			t, ok, err := ratelimit.CallWithRetry(ctx, l, func(ctx context.Context) (*model.Table, error) {
				return c.Dataset(ctx, name, stockID, start)
			})
			if err != nil || !ok {
				return nil, false, err
			}
			if err := appendFocus(out, t, stockID); err != nil {
				return nil, false, fmt.Errorf("%s: %w", name, err)
			}
		}
		return out, true, nil
	}
}

var focusSet = func() map[string]bool {
	m := map[string]bool{}
	for _, k := range FocusMetrics {
		m[k] = true
	}
	return m
}()

func appendFocus(out, t *model.Table, stockID string) error {
	if t.Empty() {
		return nil
	}
	for _, col := range []string{"date", "type", "value"} {
		if t.Index(col) < 0 {
			return fmt.Errorf("missing column %q", col)
		}
	}
	for r := range t.Rows {
		typ, _ := t.Value(r, "type")
		name := strings.TrimSpace(fmt.Sprint(typ))
		if !focusSet[name] {
			continue
		}
		date, _ := t.Value(r, "date")
		raw, _ := t.Value(r, "value")
		v, err := toDecimal(raw)
		if err != nil {
			return fmt.Errorf("row %d: %w", r, err)
		}
		out.Append(date, stockID, name, v)
	}
	return nil
}

func toDecimal(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(x)
	default:
		return nil, fmt.Errorf("unexpected value type %T", v)
	}
}

func dividends(y YahooClient, l *ratelimit.Limiter) fetchFunc {
	return func(ctx context.Context, target model.Target) (*model.Table, bool, error) {
		divs, ok, err := ratelimit.CallWithRetry(ctx, l, func(ctx context.Context) ([]model.Dividend, error) {
			return y.Dividends(ctx, model.YahooSymbolOf(target))
		})
		if err != nil || !ok {
			return nil, false, err
		}
		stockID := model.StockID(target)
		t := model.NewTable("date", "stock_id", "dividend")
		for _, d := range divs {
			t.Append(model.CivilDate(d.Time), stockID, decimal.NewFromFloat(d.Amount))
		}
		return t, true, nil
	}
}
