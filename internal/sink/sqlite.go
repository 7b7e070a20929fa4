package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"StockScanner/internal/model"
)

// SQLite persists datasets into a local SQLite file, for development and
// single-machine use.
type SQLite struct {
	path string

	mu      sync.Mutex
	db      *sql.DB
	ensured map[string]bool
}

// NewSQLite returns a sink that opens path on first use.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// conn opens the database. Caller holds mu.
func (s *SQLite) conn() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s.db = db
	s.ensured = map[string]bool{}
	log.WithField("path", s.path).Debug("sqlite sink opened")
	return db, nil
}

// Append inserts rows with INSERT OR IGNORE inside one transaction.
func (s *SQLite) Append(ctx context.Context, table string, t *model.Table) (int, error) {
	if t.Empty() {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if !s.ensured[table] {
		if _, err := db.ExecContext(ctx, createTableSQL(dialectSQLite, table, t, quoteSQLite)); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
		s.ensured[table] = true
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		quoteSQLite(table), quotedList(t.Columns, quoteSQLite), placeholders(dialectSQLite, len(t.Columns))))
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	total := 0
	for _, row := range t.Rows {
		res, err := stmt.ExecContext(ctx, sqliteArgs(row)...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			total += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return total, nil
}

// sqliteArgs stores dates as ISO calendar days and decimals as text so
// numeric affinity keeps them exact where possible.
func sqliteArgs(row []any) []any {
	args := make([]any, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case time.Time:
			args[i] = x.Format("2006-01-02")
		case decimal.Decimal:
			args[i] = x.String()
		default:
			args[i] = v
		}
	}
	return args
}

// ExistsAny reports whether table has a row for stockID. A missing table
// holds nothing.
func (s *SQLite) ExistsAny(ctx context.Context, table, stockID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE stock_id = ? LIMIT 1", quoteSQLite(table)), stockID).Scan(&n)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil && strings.Contains(err.Error(), "no such table"):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Instruments reads twstock_code.
func (s *SQLite) Instruments(ctx context.Context) ([]model.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, instrumentsQuery)
	if err != nil {
		return nil, fmt.Errorf("read twstock_code: %w", err)
	}
	defer rows.Close()
	return scanInstruments(rows)
}

// PricedInstruments lists instruments already present in daily_price.
func (s *SQLite) PricedInstruments(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, pricedQuery)
	if err != nil {
		return nil, fmt.Errorf("read daily_price ids: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Close closes the database. The sink reopens on next use.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	log.WithField("path", s.path).Debug("closing sqlite sink")
	err := s.db.Close()
	s.db = nil
	return err
}
