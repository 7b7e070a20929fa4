// Package sink persists dataset tables into the relational store. Writes
// are append-only: rows whose key already exists are skipped, never
// updated. Missing tables are created from the first batch written.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"StockScanner/internal/model"
)

// Sink is the persistence collaborator of the scanners.
type Sink interface {
	// Append inserts rows, ignoring duplicates, and returns how many were new.
	Append(ctx context.Context, table string, t *model.Table) (int, error)
	// ExistsAny reports whether the table holds any row for the instrument.
	ExistsAny(ctx context.Context, table, stockID string) (bool, error)
	// Instruments reads the market-wide listing.
	Instruments(ctx context.Context) ([]model.Instrument, error)
	// PricedInstruments lists four-character codes with price history.
	PricedInstruments(ctx context.Context) ([]string, error)
	// Close releases connections. The sink reconnects on next use.
	Close() error
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// columnType infers a column type from the first non-nil value.
func columnType(d dialect, v any) string {
	switch v.(type) {
	case time.Time:
		if d == dialectSQLite {
			return "TEXT"
		}
		return "DATE"
	case int, int32, int64:
		if d == dialectSQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case float32, float64:
		if d == dialectSQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case decimal.Decimal:
		return "NUMERIC"
	case bool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func firstValue(t *model.Table, col int) any {
	for _, row := range t.Rows {
		if row[col] != nil {
			return row[col]
		}
	}
	return nil
}

// createTableSQL builds the DDL for a table shaped like t, keyed on the
// part of the table's uniqueness key that t actually carries.
func createTableSQL(d dialect, table string, t *model.Table, quote func(string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quote(table))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", quote(c), columnType(d, firstValue(t, i)))
	}
	var keys []string
	for _, k := range model.KeysFor(table) {
		if t.Index(k) >= 0 {
			keys = append(keys, quote(k))
		}
	}
	if len(keys) > 0 {
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(keys, ", "))
	}
	b.WriteString(")")
	return b.String()
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(d dialect, n int) string {
	ps := make([]string, n)
	for i := range ps {
		if d == dialectPostgres {
			ps[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ps[i] = "?"
		}
	}
	return strings.Join(ps, ", ")
}

func quotedList(cols []string, quote func(string) string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = quote(c)
	}
	return strings.Join(q, ", ")
}

const instrumentsQuery = `SELECT code, COALESCE(name, ''), COALESCE(market, ''), COALESCE(type, ''),
	COALESCE(cfi_code, ''), COALESCE(isin, ''), COALESCE(industry, '')
	FROM twstock_code ORDER BY code`

const pricedQuery = `SELECT DISTINCT stock_id FROM daily_price WHERE length(stock_id) = 4 ORDER BY stock_id`

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanInstruments(rows rowScanner) ([]model.Instrument, error) {
	var out []model.Instrument
	for rows.Next() {
		var i model.Instrument
		if err := rows.Scan(&i.Code, &i.Name, &i.Market, &i.Kind, &i.CFICode, &i.ISIN, &i.Industry); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanStrings(rows rowScanner) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
