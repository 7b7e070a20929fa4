package scanner

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
)

// DefaultDatasetFailLimit disables a dataset for the rest of a pass after
// this many consecutive hard failures.
const DefaultDatasetFailLimit = 5

// fetchFunc returns the rows for one target. ok is false when the provider
// gave no result (rate limited on every attempt); that is not a failure.
type fetchFunc func(ctx context.Context, target model.Target) (t *model.Table, ok bool, err error)

// dataset is one independently resumable table a fetcher fills.
type dataset struct {
	table   string
	label   string
	limiter *ratelimit.Limiter
	fetch   fetchFunc
}

// Appender is the part of the sink the runner writes through.
type Appender interface {
	Append(ctx context.Context, table string, t *model.Table) (int, error)
}

// runner applies the per-dataset algorithm shared by every fetcher.
type runner struct {
	scanner   string
	index     Index
	sink      Appender
	failLimit int

	streak   map[string]int
	disabled map[string]bool
}

func newRunner(scanner string, ix Index, s Appender, failLimit int) *runner {
	if failLimit <= 0 {
		failLimit = DefaultDatasetFailLimit
	}
	return &runner{
		scanner:   scanner,
		index:     ix,
		sink:      s,
		failLimit: failLimit,
		streak:    map[string]int{},
		disabled:  map[string]bool{},
	}
}

// Disabled reports whether a dataset was switched off in this pass.
func (r *runner) Disabled(table string) bool { return r.disabled[table] }

// run attempts each dataset in declared order and reports whether any of
// them newly succeeded.
func (r *runner) run(ctx context.Context, target model.Target, datasets []dataset) (bool, error) {
	stockID := model.StockID(target)
	newly := false

	for _, ds := range datasets {
		if r.index.Exists(ds.table, stockID) || r.disabled[ds.table] {
			continue
		}
		if r.index.HasFailure(ds.table, stockID) {
			// Paced like a real call so skip loops stay at the provider's rate.
			if err := ds.limiter.Wait(ctx); err != nil {
				return newly, err
			}
			continue
		}

		ok, err := r.attempt(ctx, target, stockID, ds)
		if err != nil {
			return newly, err
		}
		newly = newly || ok

		if err := ds.limiter.Wait(ctx); err != nil {
			return newly, err
		}
	}
	return newly, nil
}

func (r *runner) attempt(ctx context.Context, target model.Target, stockID string, ds dataset) (bool, error) {
	entry := log.WithFields(log.Fields{"scanner": r.scanner, "stock_id": stockID, "table": ds.table})

	t, ok, err := ds.fetch(ctx, target)
	switch {
	case errors.Is(err, ratelimit.ErrBudgetExhausted):
		return false, err
	case err != nil && ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		r.fail(entry, ds, stockID, err)
		return false, nil
	case !ok:
		entry.Debug("no result, will retry on a later pass")
		return false, nil
	}

	// A started write is allowed to finish after an interrupt.
	wctx := context.WithoutCancel(ctx)
	if !t.Empty() {
		if err := t.NormalizeDates(); err != nil {
			r.fail(entry, ds, stockID, fmt.Errorf("normalize dates: %w", err))
			return false, nil
		}
		n, err := r.sink.Append(wctx, ds.table, t)
		if err != nil {
			r.fail(entry, ds, stockID, err)
			return false, nil
		}
		entry.Debugf("%s: %d rows, %d new", ds.label, t.Len(), n)
	} else {
		entry.Debugf("%s: confirmed no data", ds.label)
	}

	if err := r.index.Record(ds.table, stockID); err != nil {
		entry.WithError(err).Error("record completion failed")
		return false, nil
	}
	r.streak[ds.table] = 0
	return true, nil
}

func (r *runner) fail(entry *log.Entry, ds dataset, stockID string, err error) {
	entry.WithError(err).Errorf("%s failed", ds.label)
	if rerr := r.index.RecordFailure(ds.table, stockID, err.Error()); rerr != nil {
		entry.WithError(rerr).Warn("record failure failed")
	}
	r.streak[ds.table]++
	if r.streak[ds.table] >= r.failLimit {
		r.disabled[ds.table] = true
		entry.Warnf("%s failed %d times in a row, disabled for this pass", ds.label, r.streak[ds.table])
	}
}

// finMindDataset wraps a plain FinMind dataset fetch.
func finMindDataset(c FinMindClient, l *ratelimit.Limiter, name, startDate string) fetchFunc {
	return func(ctx context.Context, target model.Target) (*model.Table, bool, error) {
		stockID := model.StockID(target)
		return ratelimit.CallWithRetry(ctx, l, func(ctx context.Context) (*model.Table, error) {
			return c.Dataset(ctx, name, stockID, startDate)
		})
	}
}
