package index

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Bootstrap imports completion state from the remote mirror. The compact
// progress log is preferred; when it is empty the persisted dataset tables
// are scanned instead and the result is written back to the progress log,
// one batch per table. Local operations stay usable whatever happens.
func (ix *Index) Bootstrap(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	// An explicit bootstrap replaces the automatic one on a fresh file.
	ix.bootstrap.Do(func() {})
	if _, err := ix.conn(); err != nil {
		return err
	}
	return ix.bootstrapLocked(ctx)
}

func (ix *Index) bootstrapLocked(ctx context.Context) error {
	if ix.mirror == nil {
		return fmt.Errorf("no mirror configured")
	}
	start := time.Now()

	if err := ix.mirror.EnsureProgressTable(ctx); err != nil {
		return fmt.Errorf("ensure progress table: %w", err)
	}

	progress, err := ix.mirror.LoadProgress(ctx)
	if err != nil {
		log.WithError(err).Warn("load mirrored progress failed, falling back to table scan")
	}
	if len(progress) > 0 {
		byTable := map[string][]string{}
		for _, p := range progress {
			byTable[p.Table] = append(byTable[p.Table], p.StockID)
		}
		total := 0
		for table, ids := range byTable {
			n, err := ix.insertCompleted(table, ids)
			if err != nil {
				return err
			}
			total += n
		}
		log.Infof("index bootstrapped from progress log: %d records in %s", total, time.Since(start).Round(time.Millisecond))
		return nil
	}

	total := 0
	for _, table := range ix.opts.Tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := ix.mirror.DistinctInstruments(ctx, table)
		if err != nil {
			log.WithField("table", table).WithError(err).Debug("skip table during bootstrap")
			continue
		}
		if len(ids) == 0 {
			continue
		}
		n, err := ix.insertCompleted(table, ids)
		if err != nil {
			return err
		}
		total += n
		if err := ix.mirror.SaveProgressBatch(ctx, table, ids); err != nil {
			log.WithField("table", table).WithError(err).Warn("write back progress failed")
		}
		log.WithField("table", table).Infof("bootstrapped %d instruments", len(ids))
	}
	log.Infof("index bootstrapped from dataset tables: %d records in %s", total, time.Since(start).Round(time.Millisecond))
	return nil
}

// insertCompleted adds completion records in one transaction. Caller
// holds mu.
func (ix *Index) insertCompleted(table string, ids []string) (int, error) {
	tx, err := ix.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO scan_index (stock_id, table_name, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	n := 0
	for _, id := range ids {
		res, err := stmt.Exec(id, table, now)
		if err != nil {
			return n, fmt.Errorf("import %s/%s: %w", table, id, err)
		}
		if k, _ := res.RowsAffected(); k > 0 {
			n++
		}
	}
	return n, tx.Commit()
}
