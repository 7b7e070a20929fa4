package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"StockScanner/internal/dashboard"
	"StockScanner/internal/index"
	"StockScanner/internal/model"
	"StockScanner/internal/scanner"
	"StockScanner/internal/scheduler"
	"StockScanner/internal/universe"
	"StockScanner/internal/upstream"
)

func commands(mk func() *env) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "scan",
			Usage: "run one scanner, or all of them in order",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "scanner",
					Value: "all",
					Usage: "price, fundamental, chip, valuation or all",
				},
				budgetFlag(),
				&cli.StringFlag{Name: "test", Usage: "scan only this stock id, ignoring completion"},
				&cli.BoolFlag{Name: "verify", Usage: "check skipped targets against the store"},
			},
			Action: func(c *cli.Context) error { return runScan(c, mk()) },
		},
		{
			Name:  "schedule",
			Usage: "run all scanners on the configured cron schedule",
			Flags: []cli.Flag{
				budgetFlag(),
				&cli.BoolFlag{Name: "now", Usage: "run one cycle immediately"},
			},
			Action: func(c *cli.Context) error { return runSchedule(c, mk()) },
		},
		{
			Name:  "index",
			Usage: "completion index maintenance",
			Subcommands: []*cli.Command{
				{
					Name:   "init",
					Usage:  "bootstrap the local index from the remote mirror",
					Action: func(c *cli.Context) error { return runIndexInit(c, mk()) },
				},
			},
		},
		{
			Name:  "failures",
			Usage: "inspect or clear failure records",
			Subcommands: []*cli.Command{
				{
					Name:   "show",
					Usage:  "count failures per table",
					Action: func(c *cli.Context) error { return runFailuresShow(c, mk()) },
				},
				{
					Name:   "clear",
					Usage:  "delete failure records so they are retried",
					Flags:  []cli.Flag{&cli.StringFlag{Name: "table", Usage: "only this table"}},
					Action: func(c *cli.Context) error { return runFailuresClear(c, mk()) },
				},
			},
		},
		{
			Name:   "usage",
			Usage:  "show FinMind API usage for the current hour",
			Action: func(c *cli.Context) error { return runUsage(c, mk()) },
		},
		{
			Name:  "dashboard",
			Usage: "serve the read-only progress dashboard",
			Flags: []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address"}},
			Action: func(c *cli.Context) error {
				e := mk()
				addr := c.String("addr")
				if addr == "" {
					addr = e.cfg.Dashboard.Addr
				}
				ix := e.index(true)
				defer ix.Close()
				store := e.sink()
				defer store.Close()
				return dashboard.New(ix, store).ListenAndServe(c.Context, addr)
			},
		},
		{
			Name:  "universe",
			Usage: "instrument listing maintenance",
			Subcommands: []*cli.Command{
				{
					Name:   "refresh",
					Usage:  "download the TWSE listing into twstock_code",
					Action: func(c *cli.Context) error { return runUniverseRefresh(c, mk()) },
				},
			},
		},
	}
}

func budgetFlag() cli.Flag {
	return &cli.IntFlag{Name: "budget", Usage: "FinMind calls allowed this cycle (overrides the usage query)"}
}

func scannerNames(name string) ([]string, error) {
	if name == "all" {
		return scanner.RunOrder, nil
	}
	for _, n := range scanner.Names() {
		if n == name {
			return []string{name}, nil
		}
	}
	return nil, cli.Exit(fmt.Sprintf("unknown scanner %q (choose %s or all)", name, strings.Join(scanner.Names(), ", ")), 2)
}

func cycleBudget(c *cli.Context, e *env) *int {
	if c.IsSet("budget") {
		n := c.Int("budget")
		return &n
	}
	return e.cfg.Limits.Budget
}

func runScan(c *cli.Context, e *env) error {
	names, err := scannerNames(c.String("scanner"))
	if err != nil {
		return err
	}
	opts := scanner.Options{Verify: c.Bool("verify")}
	if id := strings.TrimSpace(c.String("test")); id != "" {
		opts.Only = []model.Target{model.BareID(id)}
		opts.NoResume = true
		log.WithField("stock_id", id).Info("test mode")
	}

	s := scheduler.NewScheduler(c.Context, scheduler.Options{Scanners: names, Budget: cycleBudget(c, e)},
		e.factory(opts), e.budget, nil, nil)
	printSummaries(c.App.Writer, s.RunCycle(c.Context))
	return nil
}

func runSchedule(c *cli.Context, e *env) error {
	s := scheduler.NewScheduler(c.Context,
		scheduler.Options{Spec: e.cfg.Schedule.Cron, Budget: cycleBudget(c, e)},
		e.factory(scanner.Options{}), e.budget, e.usage(), e.notifier())
	if err := s.Register(); err != nil {
		return err
	}
	s.Start()

	var now sync.WaitGroup
	if c.Bool("now") {
		now.Add(1)
		go func() {
			defer now.Done()
			s.RunNow()
		}()
	}

	<-c.Context.Done()
	log.Info("shutdown signal received, stopping...")
	s.Stop()
	now.Wait()
	return nil
}

func runIndexInit(c *cli.Context, e *env) error {
	if e.cfg.Database.DSN == "" {
		return cli.Exit("index init needs a database DSN for the remote mirror", 1)
	}
	ix := e.index(false)
	defer ix.Close()
	if err := ix.Bootstrap(c.Context); err != nil {
		return fmt.Errorf("bootstrap index: %w", err)
	}
	counts, err := ix.CompletedCounts()
	if err != nil {
		return err
	}
	printCounts(c.App.Writer, "completed", counts)
	return nil
}

func runFailuresShow(c *cli.Context, e *env) error {
	ix := e.index(true)
	defer ix.Close()
	counts, err := ix.FailureSummary()
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(c.App.Writer, "no failure records")
		return nil
	}
	printCounts(c.App.Writer, "failures", counts)
	return nil
}

func runFailuresClear(c *cli.Context, e *env) error {
	ix := e.index(true)
	defer ix.Close()
	n, err := ix.ClearFailures(c.String("table"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cleared %d failure records\n", n)
	return nil
}

func runUsage(c *cli.Context, e *env) error {
	u, err := e.finMind.Usage(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "FinMind usage: %d / %d (remaining %d)\n", u.Used, u.Limit, u.Remaining())
	return nil
}

func runUniverseRefresh(c *cli.Context, e *env) error {
	store := e.sink()
	defer store.Close()
	fetched, added, err := universe.Refresh(c.Context, upstream.NewTWSE("", e.cfg.Proxy), store)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "listing: %d instruments, %d new\n", fetched, added)
	return nil
}

func printCounts(w io.Writer, label string, counts []index.TableCount) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "table\t%s\n", label)
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\n", c.Table, c.Count)
	}
	tw.Flush()
}

func printSummaries(w io.Writer, sums []scanner.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "scanner\tstate\ttargets\tsuccess\tskipped\tfailed\tmismatched\telapsed")
	for _, s := range sums {
		elapsed := time.Duration(0)
		if !s.Finished.IsZero() {
			elapsed = s.Finished.Sub(s.Started).Round(time.Second)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Scanner, s.State, s.Targets, s.Success, s.Skipped, s.Failed, s.Mismatched, elapsed)
	}
	tw.Flush()
}
