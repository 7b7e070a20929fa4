package model

// Persisted dataset tables. Each name doubles as the dataset key in the
// completion index.
const (
	TableDailyPrice            = "daily_price"
	TableFinancialReports      = "financial_reports"
	TableDividendHistory       = "dividend_history"
	TableChipInstitutional     = "chip_institutional"
	TableChipMargin            = "chip_margin"
	TableChipShareholding      = "chip_shareholding"
	TableChipHoldingPct        = "chip_holding_pct"
	TableChipSecuritiesLending = "chip_securities_lending"
	TableChipShortSale         = "chip_short_sale"
	TableMonthRevenue          = "month_revenue"
	TableStockPER              = "stock_per"
	TableMarketValue           = "market_value"

	// TableInstruments holds the market-wide listing.
	TableInstruments = "twstock_code"
)

// TrackedTables lists every dataset the scanners fill, in run order.
var TrackedTables = []string{
	TableDailyPrice,
	TableFinancialReports,
	TableDividendHistory,
	TableChipInstitutional,
	TableChipMargin,
	TableChipShareholding,
	TableChipHoldingPct,
	TableChipSecuritiesLending,
	TableChipShortSale,
	TableMonthRevenue,
	TableStockPER,
	TableMarketValue,
}

// KeyColumns are the uniqueness keys used when a sink creates a table.
// Tables not listed here key on (date, stock_id).
var KeyColumns = map[string][]string{
	TableFinancialReports:      {"date", "stock_id", "type"},
	TableChipInstitutional:     {"date", "stock_id", "name"},
	TableChipHoldingPct:        {"date", "stock_id", "HoldingSharesLevel"},
	TableChipSecuritiesLending: {"date", "stock_id", "transaction_type", "volume", "fee_rate", "original_return_date"},
	TableInstruments:           {"code"},
}

// KeysFor returns the uniqueness key of a table.
func KeysFor(table string) []string {
	if k, ok := KeyColumns[table]; ok {
		return k
	}
	return []string{"date", "stock_id"}
}

// Progress is one completed (instrument, dataset) pair as kept by the
// remote mirror.
type Progress struct {
	StockID string
	Table   string
}
