// Package mirror keeps a durable copy of the completion index in the remote
// relational store, so a fresh machine can bootstrap without rescanning.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"StockScanner/internal/model"
	"StockScanner/internal/pgpool"
)

const progressDDL = `CREATE TABLE IF NOT EXISTS scan_progress (
	stock_id   TEXT NOT NULL,
	table_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stock_id, table_name)
)`

// Postgres is the remote mirror over a lazily opened pgx pool.
type Postgres struct {
	opts pgpool.Options

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgres returns a mirror that connects on first use.
func NewPostgres(opts pgpool.Options) *Postgres {
	return &Postgres{opts: opts}
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
	return pool, nil
}

// EnsureProgressTable creates scan_progress if it does not exist.
func (p *Postgres) EnsureProgressTable(ctx context.Context) error {
	pool, err := p.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, progressDDL); err != nil {
		return fmt.Errorf("create scan_progress: %w", err)
	}
	return nil
}

// LoadProgress returns every mirrored completion pair.
func (p *Postgres) LoadProgress(ctx context.Context) ([]model.Progress, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT stock_id, table_name FROM scan_progress`)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	defer rows.Close()

	var out []model.Progress
	for rows.Next() {
		var pr model.Progress
		if err := rows.Scan(&pr.StockID, &pr.Table); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// SaveProgress mirrors one pair; an existing pair is left alone.
func (p *Postgres) SaveProgress(ctx context.Context, table, stockID string) error {
	pool, err := p.conn(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO scan_progress (stock_id, table_name) VALUES ($1, $2)
		 ON CONFLICT (stock_id, table_name) DO NOTHING`, stockID, table)
	return err
}

// SaveProgressBatch mirrors many instruments of one dataset in a single
// round trip.
func (p *Postgres) SaveProgressBatch(ctx context.Context, table string, stockIDs []string) error {
	if len(stockIDs) == 0 {
		return nil
	}
	pool, err := p.conn(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx,
		`INSERT INTO scan_progress (stock_id, table_name)
		 SELECT unnest($1::text[]), $2
		 ON CONFLICT (stock_id, table_name) DO NOTHING`, stockIDs, table)
	if err != nil {
		return fmt.Errorf("save progress batch %s: %w", table, err)
	}
	log.WithField("table", table).Debugf("mirrored %d of %d progress rows", tag.RowsAffected(), len(stockIDs))
	return nil
}

// DistinctInstruments lists the instruments that already have rows in a
// persisted dataset table.
func (p *Postgres) DistinctInstruments(ctx context.Context, table string) ([]string, error) {
	pool, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT DISTINCT stock_id FROM `+pgpool.QuoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("distinct instruments %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the pool. The mirror reconnects on next use.
func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}
