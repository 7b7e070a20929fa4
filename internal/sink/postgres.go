package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"StockScanner/internal/model"
	"StockScanner/internal/pgpool"
)

const undefinedTable = "42P01"

// Postgres writes to a PostgreSQL database over a pool that is opened on
// first use and can be disposed and recreated.
type Postgres struct {
	opts      pgpool.Options
	batchSize int

	mu      sync.Mutex
	pool    *pgxpool.Pool
	ensured map[string]bool
}

// NewPostgres returns a lazily connecting sink.
func NewPostgres(opts pgpool.Options, batchSize int) *Postgres {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Postgres{opts: opts, batchSize: batchSize}
}

func (p *Postgres) conn(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return p.pool, nil
	}
	pool, err := pgpool.Open(ctx, p.opts)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.ensured = map[string]bool{}
	log.Debug("postgres sink connected")
	return pool, nil
}

func (p *Postgres) ensureTable(ctx context.Context, pool *pgxpool.Pool, table string, t *model.Table) error {
	p.mu.Lock()
	done := p.ensured[table]
	p.mu.Unlock()
	if done {
		return nil
	}
	if _, err := pool.Exec(ctx, createTableSQL(dialectPostgres, table, t, pgpool.QuoteIdent)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	p.mu.Lock()
	p.ensured[table] = true
	p.mu.Unlock()
	return nil
}

// Append inserts rows in batches with ON CONFLICT DO NOTHING.
func (p *Postgres) Append(ctx context.Context, table string, t *model.Table) (int, error) {
	if t.Empty() {
		return 0, nil
	}
	pool, err := p.conn(ctx)
	if err != nil {
		return 0, err
	}
	if err := p.ensureTable(ctx, pool, table, t); err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		pgpool.QuoteIdent(table), quotedList(t.Columns, pgpool.QuoteIdent), placeholders(dialectPostgres, len(t.Columns)))

	total := 0
	for i := 0; i < len(t.Rows); i += p.batchSize {
		j := i + p.batchSize
		if j > len(t.Rows) {
			j = len(t.Rows)
		}
		b := &pgx.Batch{}
		for _, row := range t.Rows[i:j] {
			b.Queue(stmt, pgArgs(row)...)
		}
		br := pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("insert %s: %w", table, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return total, nil
}

func pgArgs(row []any) []any {
	args := make([]any, len(row))
	for i, v := range row {
		if d, ok := v.(decimal.Decimal); ok {
			args[i] = pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
			continue
		}
		args[i] = v
	}
	return args
}

// ExistsAny reports whether table has a row for stockID. A missing table
// holds nothing.
func (p *Postgres) ExistsAny(ctx context.Context, table, stockID string) (bool, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	err = pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE stock_id = $1)", pgpool.QuoteIdent(table)), stockID).Scan(&ok)
	if isUndefinedTable(err) {
		return false, nil
	}
	return ok, err
}

// Instruments reads twstock_code.
func (p *Postgres) Instruments(ctx context.Context) ([]model.Instrument, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, instrumentsQuery)
	if err != nil {
		return nil, fmt.Errorf("read twstock_code: %w", err)
	}
	defer rows.Close()
	return scanInstruments(rows)
}

// PricedInstruments lists instruments already present in daily_price.
func (p *Postgres) PricedInstruments(ctx context.Context) ([]string, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pricedQuery)
	if err != nil {
		return nil, fmt.Errorf("read daily_price ids: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Close disposes the pool.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		log.Debug("postgres sink disposed")
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
