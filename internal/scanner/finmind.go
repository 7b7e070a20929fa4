package scanner

import (
	"context"

	"StockScanner/internal/model"
	"StockScanner/internal/upstream"
)

// Chip fills the six institutional flow, margin and shareholding tables.
type Chip struct {
	base
}

// NewChip creates the chip fetcher over its six FinMind datasets.
func NewChip(d Deps) *Chip {
	c := &Chip{base: base{name: "chip", catalog: d.Catalog}}
	c.datasets = finMindDatasets(d, []dataset{
		{table: model.TableChipInstitutional, label: upstream.DatasetInstitutional},
		{table: model.TableChipMargin, label: upstream.DatasetMarginShortSale},
		{table: model.TableChipShareholding, label: upstream.DatasetShareholding},
		{table: model.TableChipHoldingPct, label: upstream.DatasetHoldingSharesPer},
		{table: model.TableChipSecuritiesLending, label: upstream.DatasetSecuritiesLending},
		{table: model.TableChipShortSale, label: upstream.DatasetShortSaleBalances},
	})
	c.resume = tablesOf(c.datasets)
	c.runner = newRunner(c.name, d.Index, d.Sink, d.FailLimit)
	return c
}

// Targets lists instruments that have daily prices.
func (c *Chip) Targets(ctx context.Context) ([]model.Target, error) {
	return c.pricedTargets(ctx)
}

// Valuation fills monthly revenue, PER and market value.
type Valuation struct {
	base
}

// NewValuation creates the revenue, PER and market value fetcher.
func NewValuation(d Deps) *Valuation {
	v := &Valuation{base: base{name: "valuation", catalog: d.Catalog}}
	v.datasets = finMindDatasets(d, []dataset{
		{table: model.TableMonthRevenue, label: upstream.DatasetMonthRevenue},
		{table: model.TableStockPER, label: upstream.DatasetPER},
		{table: model.TableMarketValue, label: upstream.DatasetMarketValue},
	})
	v.resume = tablesOf(v.datasets)
	v.runner = newRunner(v.name, d.Index, d.Sink, d.FailLimit)
	return v
}

// Targets lists instruments that have daily prices.
func (v *Valuation) Targets(ctx context.Context) ([]model.Target, error) {
	return v.pricedTargets(ctx)
}

// finMindDatasets binds each declared dataset, whose label is the FinMind
// dataset name, to a plain fetch.
func finMindDatasets(d Deps, decl []dataset) []dataset {
	start := d.StartDate
	if start == "" {
		start = DefaultStartDate
	}
	for i := range decl {
		decl[i].limiter = d.FinMindLimiter
		decl[i].fetch = finMindDataset(d.FinMind, d.FinMindLimiter, decl[i].label, start)
	}
	return decl
}

func tablesOf(ds []dataset) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.table
	}
	return out
}
