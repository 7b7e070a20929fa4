// Package pgpool opens pgx connection pools with retry.
package pgpool

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Options configures a pool.
type Options struct {
	DSN      string
	MaxConns int
	// ViaBouncer switches to the simple protocol for transaction poolers
	// such as pgbouncer or the Supabase pooler.
	ViaBouncer bool
	// MaxElapsed bounds the total time spent retrying the first ping.
	MaxElapsed time.Duration
}

// Open parses the DSN, creates the pool and pings it, retrying with
// exponential backoff until MaxElapsed.
func Open(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = opts.MaxElapsed
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	notify := func(err error, d time.Duration) {
		log.WithError(err).Warnf("postgres ping failed, retrying in %s", d)
	}
	if err := backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(bo, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// QuoteIdent quotes a table or column name.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
