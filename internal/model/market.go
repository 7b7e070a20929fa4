package model

import "time"

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Dividend is one cash distribution event.
type Dividend struct {
	Time   time.Time
	Amount float64
}

// PriceColumns is the persisted daily_price schema, in order.
var PriceColumns = []string{"date", "stock_id", "open", "high", "low", "close", "volume"}

// BarsToTable shapes bars into daily_price rows for one instrument.
// Dates are reduced to calendar days.
func BarsToTable(stockID string, bars []OHLCV) *Table {
	t := NewTable(PriceColumns...)
	for _, b := range bars {
		t.Append(CivilDate(b.Time), stockID, b.Open, b.High, b.Low, b.Close, int64(b.Volume))
	}
	return t
}
