package model

import (
	"strings"
	"time"
)

// Market venues as they appear on the TWSE listing pages.
const (
	MarketListed = "上市"
	MarketOTC    = "上櫃"
)

// Kinds used to select the price universe.
const (
	KindStock = "股票"
	KindETF   = "ETF"

	// CFICommonStock marks ordinary shares in the listing CFI column.
	CFICommonStock = "ESVUFR"
)

// Target is anything a scanner can visit. It is either a BareID or a full
// Instrument; StockID extracts the identifier from both.
type Target interface {
	StockID() string
}

// BareID is a target known only by its code.
type BareID string

func (b BareID) StockID() string { return strings.TrimSpace(string(b)) }

// Instrument is one tradable security from the market-wide listing.
type Instrument struct {
	Code       string
	Name       string
	Market     string
	Kind       string
	CFICode    string
	ISIN       string
	Industry   string
	ListedDate time.Time
}

func (i Instrument) StockID() string { return strings.TrimSpace(i.Code) }

// YahooSymbol maps the venue to the Yahoo ticker suffix. Unknown venues
// return "".
func (i Instrument) YahooSymbol() string {
	switch {
	case strings.Contains(i.Market, MarketListed):
		return i.StockID() + ".TW"
	case strings.Contains(i.Market, MarketOTC):
		return i.StockID() + ".TWO"
	default:
		return ""
	}
}

// InPriceUniverse reports whether the instrument is a common stock or an ETF.
func (i Instrument) InPriceUniverse() bool {
	return i.CFICode == CFICommonStock || i.Kind == KindETF
}

// StockID returns the identifier of any target variant.
func StockID(t Target) string {
	if t == nil {
		return ""
	}
	return t.StockID()
}

// YahooSymbolOf resolves the Yahoo ticker for a target. Bare ids are assumed
// to be listed on TWSE.
func YahooSymbolOf(t Target) string {
	if inst, ok := t.(Instrument); ok {
		if s := inst.YahooSymbol(); s != "" {
			return s
		}
	}
	return StockID(t) + ".TW"
}

// InstrumentColumns is the persisted twstock_code schema, in order.
var InstrumentColumns = []string{"code", "name", "market", "type", "cfi_code", "isin", "industry", "listed_date"}

// InstrumentsToTable shapes a listing into twstock_code rows.
func InstrumentsToTable(list []Instrument) *Table {
	t := NewTable(InstrumentColumns...)
	for _, i := range list {
		var listed any
		if !i.ListedDate.IsZero() {
			listed = CivilDate(i.ListedDate)
		}
		t.Append(i.Code, i.Name, i.Market, i.Kind, i.CFICode, i.ISIN, i.Industry, listed)
	}
	return t
}
