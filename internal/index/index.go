// Package index is the local completion index: which (instrument, dataset)
// pairs need no further fetching, plus the most recent failure per pair.
// It lives in a SQLite file and is mirrored, best effort, to the remote
// store.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"StockScanner/internal/model"
)

// Mirror is the remote copy of the completion log.
type Mirror interface {
	EnsureProgressTable(ctx context.Context) error
	LoadProgress(ctx context.Context) ([]model.Progress, error)
	SaveProgress(ctx context.Context, table, stockID string) error
	SaveProgressBatch(ctx context.Context, table string, stockIDs []string) error
	DistinctInstruments(ctx context.Context, table string) ([]string, error)
}

const (
	mirrorQueueSize    = 1024
	mirrorWriteTimeout = 10 * time.Second
	mirrorFlushTimeout = 3 * time.Second
	bootstrapTimeout   = 5 * time.Minute
)

// Options configures an Index.
type Options struct {
	// ReadOnly disables bootstrap and mirror writes. Used by the dashboard.
	ReadOnly bool
	// Tables are the datasets scanned during a fallback bootstrap.
	Tables []string
	// FlushTimeout bounds how long Close waits for queued mirror writes.
	// Writes still pending after it are dropped.
	FlushTimeout time.Duration
}

// Index is safe for concurrent use. The database is opened on first use
// and may be closed and reopened any number of times.
type Index struct {
	path   string
	mirror Mirror
	opts   Options

	mu        sync.Mutex
	db        *sql.DB
	queue     chan model.Progress
	drained   chan struct{}
	stopFlush context.CancelFunc
	bootstrap sync.Once
}

// New returns an index stored at path. A nil mirror disables mirroring.
func New(path string, m Mirror, opts Options) *Index {
	if opts.Tables == nil {
		opts.Tables = model.TrackedTables
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = mirrorFlushTimeout
	}
	return &Index{path: path, mirror: m, opts: opts}
}

// Path returns the database file location.
func (ix *Index) Path() string { return ix.path }

// conn returns the open database, opening it if needed. Caller holds mu.
func (ix *Index) conn() (*sql.DB, error) {
	if ix.db != nil {
		return ix.db, nil
	}

	fresh := false
	if ix.path != ":memory:" {
		if _, err := os.Stat(ix.path); errors.Is(err, os.ErrNotExist) {
			fresh = true
		}
		if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", ix.path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	ix.db = db
	log.WithField("path", ix.path).Debug("completion index opened")

	if ix.mirror != nil && !ix.opts.ReadOnly {
		flushCtx, stop := context.WithCancel(context.Background())
		ix.queue = make(chan model.Progress, mirrorQueueSize)
		ix.drained = make(chan struct{})
		ix.stopFlush = stop
		go ix.mirrorWriter(flushCtx, ix.queue, ix.drained)

		if fresh {
			ix.bootstrap.Do(func() {
				ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
				defer cancel()
				if err := ix.bootstrapLocked(ctx); err != nil {
					log.WithError(err).Warn("index bootstrap from mirror failed, starting empty")
				}
			})
		}
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_index (
			stock_id   TEXT NOT NULL,
			table_name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (stock_id, table_name)
		)`,
		`CREATE TABLE IF NOT EXISTS scan_failures (
			stock_id   TEXT NOT NULL,
			table_name TEXT NOT NULL,
			error_msg  TEXT,
			failed_at  INTEGER NOT NULL,
			PRIMARY KEY (stock_id, table_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_table ON scan_failures(table_name)`,

		`CREATE TABLE IF NOT EXISTS scan_runs (
			run_id      TEXT PRIMARY KEY,
			scanner     TEXT NOT NULL,
			state       TEXT NOT NULL,
			targets     INTEGER,
			success     INTEGER,
			skipped     INTEGER,
			failed      INTEGER,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started_at)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// mirrorWriter drains queued completions to the remote mirror. Errors are
// logged and dropped. Once ctx is cancelled the remaining queue is
// discarded.
func (ix *Index) mirrorWriter(ctx context.Context, queue <-chan model.Progress, done chan<- struct{}) {
	defer close(done)
	dropped := 0
	for p := range queue {
		if ctx.Err() != nil {
			dropped++
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
		if err := ix.mirror.SaveProgress(wctx, p.Table, p.StockID); err != nil {
			log.WithFields(log.Fields{"table": p.Table, "stock_id": p.StockID}).
				WithError(err).Debug("mirror write failed")
		}
		cancel()
	}
	if dropped > 0 {
		log.Debugf("mirror flush deadline passed, dropped %d pending writes", dropped)
	}
}

// Close flushes pending mirror writes for at most FlushTimeout and closes
// the database. The lock is released while the flush runs.
func (ix *Index) Close() error {
	ix.mu.Lock()
	db := ix.db
	queue, drained, stop := ix.queue, ix.drained, ix.stopFlush
	ix.db, ix.queue, ix.drained, ix.stopFlush = nil, nil, nil, nil
	ix.mu.Unlock()
	if db == nil {
		return nil
	}

	if queue != nil {
		close(queue)
		timer := time.NewTimer(ix.opts.FlushTimeout)
		select {
		case <-drained:
		case <-timer.C:
			stop()
			<-drained
		}
		timer.Stop()
		stop()
	}
	if c, ok := ix.mirror.(interface{ Close() }); ok {
		c.Close()
	}
	return db.Close()
}

// Exists reports whether the pair has a completion record.
func (ix *Index) Exists(table, stockID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		log.WithError(err).Warn("index unavailable")
		return false
	}
	var n int
	err = db.QueryRow(`SELECT 1 FROM scan_index WHERE stock_id = ? AND table_name = ?`, stockID, table).Scan(&n)
	return err == nil
}

// Record marks the pair complete. Recording twice is a no-op. The remote
// mirror is updated in the background and its failures never surface here.
func (ix *Index) Record(table, stockID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return err
	}
	res, err := db.Exec(`INSERT OR IGNORE INTO scan_index (stock_id, table_name, created_at) VALUES (?, ?, ?)`,
		stockID, table, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", table, stockID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		ix.enqueueMirror(model.Progress{StockID: stockID, Table: table})
	}
	return nil
}

func (ix *Index) enqueueMirror(p model.Progress) {
	if ix.queue == nil {
		return
	}
	select {
	case ix.queue <- p:
	default:
		log.WithFields(log.Fields{"table": p.Table, "stock_id": p.StockID}).Debug("mirror queue full, dropping write")
	}
}

// AllComplete reports whether every table has a completion record for the
// instrument. It is false for an empty set.
func (ix *Index) AllComplete(tables []string, stockID string) bool {
	if len(tables) == 0 {
		return false
	}
	for _, t := range tables {
		if !ix.Exists(t, stockID) {
			return false
		}
	}
	return true
}

// RecordFailure stores the latest failure for the pair, replacing any
// earlier one.
func (ix *Index) RecordFailure(table, stockID, message string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO scan_failures (stock_id, table_name, error_msg, failed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (stock_id, table_name) DO UPDATE SET error_msg = excluded.error_msg, failed_at = excluded.failed_at`,
		stockID, table, message, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record failure %s/%s: %w", table, stockID, err)
	}
	return nil
}

// HasFailure reports whether the pair has a failure record.
func (ix *Index) HasFailure(table, stockID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		log.WithError(err).Warn("index unavailable")
		return false
	}
	var n int
	err = db.QueryRow(`SELECT 1 FROM scan_failures WHERE stock_id = ? AND table_name = ?`, stockID, table).Scan(&n)
	return err == nil
}

// ClearFailures deletes the failure records of one table, or of every
// table when table is empty. It returns the number removed.
func (ix *Index) ClearFailures(table string) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return 0, err
	}
	var res sql.Result
	if table == "" {
		res, err = db.Exec(`DELETE FROM scan_failures`)
	} else {
		res, err = db.Exec(`DELETE FROM scan_failures WHERE table_name = ?`, table)
	}
	if err != nil {
		return 0, fmt.Errorf("clear failures: %w", err)
	}
	return res.RowsAffected()
}

// TableCount is a per-dataset tally.
type TableCount struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

// FailureSummary returns failure counts per table, largest first.
func (ix *Index) FailureSummary() ([]TableCount, error) {
	return ix.counts(`SELECT table_name, COUNT(*) AS n FROM scan_failures GROUP BY table_name ORDER BY n DESC, table_name`)
}

// CompletedCounts returns completion counts per table.
func (ix *Index) CompletedCounts() ([]TableCount, error) {
	return ix.counts(`SELECT table_name, COUNT(*) AS n FROM scan_index GROUP BY table_name ORDER BY table_name`)
}

func (ix *Index) counts(query string) ([]TableCount, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableCount
	for rows.Next() {
		var c TableCount
		if err := rows.Scan(&c.Table, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
