package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"StockScanner/internal/logging"
	"StockScanner/internal/notifier"
	"StockScanner/internal/ratelimit"
	"StockScanner/internal/scanner"
	"StockScanner/internal/upstream"
)

// Factory builds a fresh controller for the named scanner. Controllers
// release their handles when a pass ends, so one is built per pass.
type Factory func(name string) (*scanner.Controller, error)

// UsageSource reports the FinMind account allowance.
type UsageSource interface {
	Usage(ctx context.Context) (upstream.Usage, error)
}

// Notifier delivers the cycle report.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Options configure the cycle.
type Options struct {
	Spec     string
	Scanners []string
	// Budget pins the per-cycle FinMind allowance; nil asks the usage
	// endpoint each cycle.
	Budget *int
}

// Scheduler runs scan cycles on a cron schedule.
type Scheduler struct {
	Cron     *cron.Cron
	opts     Options
	build    Factory
	budget   *ratelimit.Budget
	usage    UsageSource
	notifier Notifier
	ctx      context.Context
	now      func() time.Time
	entry    cron.EntryID
}

// NewScheduler creates a new Scheduler. usage and n may be nil.
func NewScheduler(ctx context.Context, opts Options, build Factory, budget *ratelimit.Budget, usage UsageSource, n Notifier) *Scheduler {
	if len(opts.Scanners) == 0 {
		opts.Scanners = scanner.RunOrder
	}
	logger := logging.CronLogger{Entry: log.WithField("component", "cron")}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		opts:     opts,
		build:    build,
		budget:   budget,
		usage:    usage,
		notifier: n,
		ctx:      ctx,
		now:      time.Now,
	}
}

// Register adds the scan cycle to the cron table.
func (s *Scheduler) Register() error {
	id, err := s.Cron.AddFunc(s.opts.Spec, func() { s.RunCycle(s.ctx) })
	if err != nil {
		return fmt.Errorf("register scan cycle %q: %w", s.opts.Spec, err)
	}
	s.entry = id
	return nil
}

// RunNow runs the registered cycle immediately through the job chain, so
// it never overlaps a scheduled run.
func (s *Scheduler) RunNow() {
	if e := s.Cron.Entry(s.entry); e.Valid() {
		e.WrappedJob.Run()
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.WithField("spec", s.opts.Spec).Info("scheduler started")
}

// Stop stops the scheduler and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("scheduler stopped")
}

// RunCycle sizes the FinMind budget, runs every scanner in order and
// reports the outcome. Once a pass pauses on the budget the remaining
// FinMind scanners are skipped for this cycle.
func (s *Scheduler) RunCycle(ctx context.Context) []scanner.Summary {
	started := s.now()
	allowance := s.sizeBudget(ctx)
	defer s.budget.Reset()

	var (
		summaries []scanner.Summary
		paused    bool
	)
	for _, name := range s.opts.Scanners {
		if ctx.Err() != nil {
			break
		}
		if paused && scanner.UsesFinMind(name) {
			log.WithField("scanner", name).Info("budget exhausted this cycle, skipping")
			continue
		}
		ctrl, err := s.build(name)
		if err != nil {
			log.WithError(err).WithField("scanner", name).Error("build scanner")
			continue
		}
		sum := ctrl.Scan(ctx)
		summaries = append(summaries, sum)
		switch sum.State {
		case scanner.StateBudgetPaused:
			paused = true
		case scanner.StateInterrupted:
			s.report(ctx, started, allowance, summaries)
			return summaries
		}
	}
	s.report(ctx, started, allowance, summaries)
	return summaries
}

// sizeBudget sets the budget for this cycle and returns it, or -1 when
// FinMind calls are unlimited.
func (s *Scheduler) sizeBudget(ctx context.Context) int {
	switch {
	case s.opts.Budget != nil:
		s.budget.Set(*s.opts.Budget)
		return *s.opts.Budget
	case s.usage != nil:
		u, err := s.usage.Usage(ctx)
		if err != nil {
			log.WithError(err).Warn("usage query failed, running without budget")
			s.budget.Reset()
			return -1
		}
		n := u.Remaining()
		log.WithFields(log.Fields{"used": u.Used, "limit": u.Limit, "remaining": n}).Info("finmind allowance")
		s.budget.Set(n)
		return n
	default:
		s.budget.Reset()
		return -1
	}
}

func (s *Scheduler) report(ctx context.Context, started time.Time, allowance int, summaries []scanner.Summary) {
	if s.notifier == nil {
		return
	}
	msg := notifier.FormatCycleReport(started, allowance, summaries)
	if err := s.notifier.SendWithRetry(context.WithoutCancel(ctx), msg, 2); err != nil {
		log.WithError(err).Error("send cycle report")
	}
}
