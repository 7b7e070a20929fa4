package model

import (
	"fmt"
	"strings"
	"time"
)

// Table is a column-oriented batch of rows bound for one persisted dataset.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds one row. The value count must match the column count.
func (t *Table) Append(values ...any) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("table: %d values for %d columns", len(values), len(t.Columns)))
	}
	t.Rows = append(t.Rows, values)
}

// Len returns the row count; a nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether there are no rows.
func (t *Table) Empty() bool { return t.Len() == 0 }

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at row r for the named column.
func (t *Table) Value(r int, name string) (any, bool) {
	i := t.Index(name)
	if i < 0 || r < 0 || r >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[r][i], true
}

// FromRecords builds a table from decoded JSON objects. Columns follow the
// key order of the first record as given by keys; keys missing from a
// record become nil.
func FromRecords(keys []string, records []map[string]any) *Table {
	t := NewTable(keys...)
	for _, rec := range records {
		row := make([]any, len(keys))
		for i, k := range keys {
			row[i] = rec[k]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// NormalizeDates replaces every value in the "date" column with a plain
// calendar date. Unparseable values are returned as an error.
func (t *Table) NormalizeDates() error {
	i := t.Index("date")
	if i < 0 {
		return nil
	}
	for r, row := range t.Rows {
		switch v := row[i].(type) {
		case time.Time:
			row[i] = CivilDate(v)
		case string:
			d, err := ParseDate(v)
			if err != nil {
				return fmt.Errorf("row %d: %w", r, err)
			}
			row[i] = d
		case nil:
		default:
			return fmt.Errorf("row %d: unexpected date type %T", r, v)
		}
	}
	return nil
}

// CivilDate drops the time of day, keeping the calendar date in t's zone.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
}

// ParseDate accepts the date shapes the upstream providers emit.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CivilDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q", s)
}
