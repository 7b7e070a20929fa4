package main

import (
	"StockScanner/internal/config"
	"StockScanner/internal/index"
	"StockScanner/internal/mirror"
	"StockScanner/internal/notifier"
	"StockScanner/internal/pgpool"
	"StockScanner/internal/ratelimit"
	"StockScanner/internal/scanner"
	"StockScanner/internal/scheduler"
	"StockScanner/internal/sink"
	"StockScanner/internal/upstream"
)

// env builds collaborators from the loaded config.
type env struct {
	cfg     *config.Config
	budget  *ratelimit.Budget
	finMind *upstream.FinMind
	yahoo   *upstream.Yahoo
}

func newEnv(cfg *config.Config) *env {
	return &env{
		cfg:     cfg,
		budget:  ratelimit.NewBudget(),
		finMind: upstream.NewFinMind(cfg.FinMind.BaseURL, cfg.FinMind.UsageURL, cfg.FinMind.Token, cfg.Proxy),
		yahoo:   upstream.NewYahoo(cfg.Yahoo.BaseURL, cfg.Proxy),
	}
}

func (e *env) pgOptions() pgpool.Options {
	return pgpool.Options{
		DSN:        e.cfg.Database.DSN,
		MaxConns:   e.cfg.Database.MaxConns,
		ViaBouncer: e.cfg.Database.ViaBouncer,
	}
}

// sink returns a fresh persistence handle.
func (e *env) sink() sink.Sink {
	if e.cfg.Database.Driver == "postgres" {
		return sink.NewPostgres(e.pgOptions(), e.cfg.Database.BatchSize)
	}
	return sink.NewSQLite(e.cfg.Database.SQLitePath)
}

// mirror returns the remote progress table, or a no-op without a DSN.
func (e *env) mirror() index.Mirror {
	if e.cfg.Database.DSN == "" {
		return mirror.NewNoop()
	}
	return mirror.NewPostgres(e.pgOptions())
}

func (e *env) index(readOnly bool) *index.Index {
	var m index.Mirror
	if !readOnly {
		m = e.mirror()
	}
	return index.New(e.cfg.Index.Path, m, index.Options{ReadOnly: readOnly})
}

func (e *env) limiters() (finMind, yahoo *ratelimit.Limiter) {
	l := e.cfg.Limits
	tiers := ratelimit.Tiers{
		Unconstrained: ratelimit.Delay{Min: l.YahooDelay.Min, Max: l.YahooDelay.Max},
		Authenticated: ratelimit.Delay{Min: l.FinMindDelay.Min, Max: l.FinMindDelay.Max},
		Anonymous:     ratelimit.Delay{Min: l.AnonymousDelay.Min, Max: l.AnonymousDelay.Max},
	}
	opts := []ratelimit.Option{
		ratelimit.WithTiers(tiers),
		ratelimit.WithBackoffUnit(l.BackoffUnit),
		ratelimit.WithMaxRetries(l.MaxRetries),
	}
	finMind = ratelimit.New(ratelimit.FinMind, e.finMind.Authenticated(), e.budget, opts...)
	yahoo = ratelimit.New(ratelimit.Yahoo, false, nil, opts...)
	return finMind, yahoo
}

// factory builds one controller per pass, each with its own index and
// sink handles since a finished pass closes them.
func (e *env) factory(opts scanner.Options) scheduler.Factory {
	finMindLimiter, yahooLimiter := e.limiters()
	opts.MaxConsecutiveFailures = e.cfg.Limits.ConsecutiveFailMax
	return func(name string) (*scanner.Controller, error) {
		ix := e.index(false)
		store := e.sink()
		fetcher, err := scanner.New(name, scanner.Deps{
			Index:          ix,
			Sink:           store,
			Catalog:        store,
			FinMind:        e.finMind,
			Yahoo:          e.yahoo,
			FinMindLimiter: finMindLimiter,
			YahooLimiter:   yahooLimiter,
			StartDate:      e.cfg.FinMind.StartDate,
			Period:         e.cfg.Yahoo.Period,
			FailLimit:      e.cfg.Limits.DatasetFailLimit,
		})
		if err != nil {
			return nil, err
		}
		return scanner.NewController(fetcher, ix, store, opts), nil
	}
}

// usage returns the FinMind usage source, or nil for anonymous access.
func (e *env) usage() scheduler.UsageSource {
	if !e.finMind.Authenticated() {
		return nil
	}
	return e.finMind
}

func (e *env) notifier() scheduler.Notifier {
	if !e.cfg.TelegramEnabled() {
		return nil
	}
	return notifier.NewTelegramNotifier(e.cfg.Telegram.BotToken, e.cfg.Telegram.ChatID, e.cfg.Proxy)
}
