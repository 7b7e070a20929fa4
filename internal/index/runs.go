package index

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one scan controller pass as shown on the dashboard.
type Run struct {
	ID         string    `json:"run_id"`
	Scanner    string    `json:"scanner"`
	State      string    `json:"state"`
	Targets    int       `json:"targets"`
	Success    int       `json:"success"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecordRun stores a finished pass.
func (ix *Index) RecordRun(r Run) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT OR REPLACE INTO scan_runs
		(run_id, scanner, state, targets, success, skipped, failed, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Scanner, r.State, r.Targets, r.Success, r.Skipped, r.Failed,
		r.StartedAt.Unix(), r.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// Runs returns the latest passes, newest first.
func (ix *Index) Runs(limit int) ([]Run, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT run_id, scanner, state, targets, success, skipped, failed, started_at, finished_at
		FROM scan_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Scanner, &r.State, &r.Targets, &r.Success, &r.Skipped, &r.Failed, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			r.FinishedAt = time.Unix(finished.Int64, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failure is one failure record.
type Failure struct {
	StockID  string    `json:"stock_id"`
	Table    string    `json:"table"`
	Message  string    `json:"error_msg"`
	FailedAt time.Time `json:"failed_at"`
}

// Failures returns the most recent failure records, optionally for one
// table.
func (ix *Index) Failures(table string, limit int) ([]Failure, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT stock_id, table_name, COALESCE(error_msg, ''), failed_at FROM scan_failures
		WHERE ? = '' OR table_name = ?
		ORDER BY failed_at DESC, stock_id LIMIT ?`, table, table, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var at int64
		if err := rows.Scan(&f.StockID, &f.Table, &f.Message, &at); err != nil {
			return nil, err
		}
		f.FailedAt = time.Unix(at, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Completion maps each instrument to the set of tables it has completed.
func (ix *Index) Completion() (map[string]map[string]bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	db, err := ix.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT stock_id, table_name FROM scan_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]map[string]bool{}
	for rows.Next() {
		var id, table string
		if err := rows.Scan(&id, &table); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = map[string]bool{}
		}
		out[id][table] = true
	}
	return out, rows.Err()
}
