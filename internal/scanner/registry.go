package scanner

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
)

// Catalog reads target lists from the persistence store.
type Catalog interface {
	Instruments(ctx context.Context) ([]model.Instrument, error)
	PricedInstruments(ctx context.Context) ([]string, error)
}

// Deps are the collaborators a fetcher is built from.
type Deps struct {
	Index          Index
	Sink           Appender
	Catalog        Catalog
	FinMind        FinMindClient
	Yahoo          YahooClient
	FinMindLimiter *ratelimit.Limiter
	YahooLimiter   *ratelimit.Limiter
	StartDate      string
	Period         string
	FailLimit      int
}

// RunOrder is the order "all" runs scanners in; the unconstrained provider
// goes first.
var RunOrder = []string{"price", "fundamental", "chip", "valuation"}

var registry = map[string]func(Deps) Fetcher{
	"price":       func(d Deps) Fetcher { return NewPrice(d) },
	"fundamental": func(d Deps) Fetcher { return NewFundamental(d) },
	"chip":        func(d Deps) Fetcher { return NewChip(d) },
	"valuation":   func(d Deps) Fetcher { return NewValuation(d) },
}

// New builds the named fetcher.
func New(name string, d Deps) (Fetcher, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scanner %q (known: %v)", name, Names())
	}
	return ctor(d), nil
}

// Names lists the registered scanners.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UsesFinMind reports whether a scanner spends the FinMind budget.
func UsesFinMind(name string) bool { return name != "price" }

// base carries what every fetcher shares.
type base struct {
	name     string
	resume   []string
	datasets []dataset
	runner   *runner
	catalog  Catalog
}

func (b *base) Name() string           { return b.name }
func (b *base) ResumeTables() []string { return b.resume }

func (b *base) FetchOne(ctx context.Context, target model.Target) (bool, error) {
	return b.runner.run(ctx, target, b.datasets)
}

// pricedTargets lists instruments already in daily_price, falling back to
// a fixed list.
func (b *base) pricedTargets(ctx context.Context) ([]model.Target, error) {
	ids, err := b.catalog.PricedInstruments(ctx)
	if err != nil || len(ids) == 0 {
		log.WithField("scanner", b.name).WithError(err).Warn("no priced instruments, using fallback list")
		return fallbackTargets(), nil
	}
	out := make([]model.Target, len(ids))
	for i, id := range ids {
		out[i] = model.BareID(id)
	}
	return out, nil
}
