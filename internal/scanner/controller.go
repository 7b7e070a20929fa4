package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
)

// DefaultMaxConsecutiveFailures stops a pass after this many failed
// targets in a row.
const DefaultMaxConsecutiveFailures = 10

const progressEvery = 50

// Store is the persistence side the controller releases and, in verify
// mode, probes.
type Store interface {
	ExistsAny(ctx context.Context, table, stockID string) (bool, error)
	Close() error
}

// Options tune one pass.
type Options struct {
	// Only replaces the computed target list. Used by test mode.
	Only []model.Target
	// NoResume disables the resume-table skip.
	NoResume bool
	// Verify cross-checks resume skips against the store.
	Verify bool
	// MaxConsecutiveFailures defaults to DefaultMaxConsecutiveFailures.
	MaxConsecutiveFailures int
}

// Controller runs one pass of a Fetcher.
type Controller struct {
	fetcher Fetcher
	index   Index
	store   Store
	opts    Options
	state   State
}

// NewController binds a fetcher to the index and store it releases when
// the pass ends.
func NewController(f Fetcher, ix Index, store Store, opts Options) *Controller {
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Controller{fetcher: f, index: ix, store: store, opts: opts, state: StateIdle}
}

// State returns the current lifecycle position.
func (c *Controller) State() State { return c.state }

// Scan visits every target once. Individual failures are counted, never
// returned; the pass ends early on a spent budget, on cancellation, or
// after too many consecutive failures. Resources are released and the
// summary logged on every exit path.
func (c *Controller) Scan(ctx context.Context) (sum Summary) {
	sum = Summary{
		RunID:   uuid.NewString(),
		Scanner: c.fetcher.Name(),
		State:   StateIdle,
		Started: time.Now(),
	}
	entry := log.WithFields(log.Fields{"scanner": sum.Scanner, "run_id": sum.RunID})

	targets := c.opts.Only
	if targets == nil {
		var err error
		targets, err = c.fetcher.Targets(ctx)
		if err != nil {
			entry.WithError(err).Error("compute targets failed")
		}
	}
	if len(targets) == 0 {
		entry.Warn("no targets, nothing to scan")
		c.release(entry)
		return sum
	}

	resume := c.fetcher.ResumeTables()
	if c.opts.NoResume {
		resume = nil
	}

	sum.Targets = len(targets)
	c.state = StateRunning
	entry.Infof("scan started: %d targets", len(targets))

	defer func() {
		sum.Finished = time.Now()
		sum.State = c.state
		c.finalize(entry, sum)
		c.state = StateIdle
	}()

	consecutive := 0
	for i, target := range targets {
		if ctx.Err() != nil {
			c.state = StateInterrupted
			return sum
		}
		stockID := model.StockID(target)

		if c.index.AllComplete(resume, stockID) {
			if c.opts.Verify && !c.verify(ctx, resume, stockID) {
				sum.Mismatched++
			}
			sum.Skipped++
			continue
		}

		ok, err := c.fetcher.FetchOne(ctx, target)
		switch {
		case errors.Is(err, ratelimit.ErrBudgetExhausted):
			entry.WithField("stock_id", stockID).Warn("api budget exhausted, pausing until next cycle")
			c.state = StateBudgetPaused
			return sum
		case ctx.Err() != nil:
			c.state = StateInterrupted
			return sum
		case err != nil:
			entry.WithField("stock_id", stockID).WithError(err).Error("fetch failed")
			ok = false
		}

		if ok {
			sum.Success++
			consecutive = 0
		} else {
			sum.Failed++
			consecutive++
		}

		if consecutive >= c.opts.MaxConsecutiveFailures {
			entry.Errorf("%d consecutive failures, stopping: quota exhausted or provider outage likely", consecutive)
			c.state = StateCircuitBroken
			return sum
		}

		if (i+1)%progressEvery == 0 {
			entry.Infof("progress %d/%d: success=%d skipped=%d failed=%d",
				i+1, len(targets), sum.Success, sum.Skipped, sum.Failed)
		}
	}
	c.state = StateCompleted
	return sum
}

// verify reports whether the store holds rows for every resume table.
func (c *Controller) verify(ctx context.Context, tables []string, stockID string) bool {
	for _, t := range tables {
		ok, err := c.store.ExistsAny(ctx, t, stockID)
		if err != nil {
			log.WithFields(log.Fields{"table": t, "stock_id": stockID}).WithError(err).Debug("verify probe failed")
			return true
		}
		if !ok {
			log.WithFields(log.Fields{"table": t, "stock_id": stockID}).Warn("index marks complete but store has no rows")
			return false
		}
	}
	return true
}

// release closes the index and the store.
func (c *Controller) release(entry *log.Entry) {
	if err := c.index.Close(); err != nil {
		entry.WithError(err).Warn("close index failed")
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			entry.WithError(err).Warn("close store failed")
		}
	}
}

func (c *Controller) finalize(entry *log.Entry, sum Summary) {
	if err := c.index.RecordRun(index.Run{
		ID:         sum.RunID,
		Scanner:    sum.Scanner,
		State:      string(sum.State),
		Targets:    sum.Targets,
		Success:    sum.Success,
		Skipped:    sum.Skipped,
		Failed:     sum.Failed,
		StartedAt:  sum.Started,
		FinishedAt: sum.Finished,
	}); err != nil {
		entry.WithError(err).Warn("record scan run failed")
	}
	c.release(entry)

	fields := log.Fields{
		"state":   sum.State,
		"success": sum.Success,
		"skipped": sum.Skipped,
		"failed":  sum.Failed,
		"elapsed": sum.Finished.Sub(sum.Started).Round(time.Second),
	}
	if sum.Mismatched > 0 {
		fields["mismatched"] = sum.Mismatched
	}
	switch sum.State {
	case StateCircuitBroken:
		entry.WithFields(fields).Error("scan aborted by circuit breaker")
	default:
		entry.WithFields(fields).Info("scan finished")
	}
}
